package node

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/user/flowd"
	lua "github.com/yuin/gopher-lua"
)

// Constructs that would reach outside the sandbox. The interpreter never
// loads the os/io/package libraries, but scripts are refused up front too.
var forbiddenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`os\s*\.\s*execute`),
	regexp.MustCompile(`os\s*\.\s*exit`),
	regexp.MustCompile(`io\s*\.\s*popen`),
	regexp.MustCompile(`\brequire\b`),
	regexp.MustCompile(`\bdofile\b`),
	regexp.MustCompile(`\bloadfile\b`),
	regexp.MustCompile(`\bloadstring\b`),
	regexp.MustCompile(`\bload\s*\(`),
	regexp.MustCompile("`"),
}

type functionConfig struct {
	Name             string            `json:"name"`
	Code             string            `json:"code"`
	InputMapping     map[string]string `json:"input_mapping"`
	OutputMapping    map[string]string `json:"output_mapping"`
	AllowedFunctions []string          `json:"allowed_functions"`
}

// FunctionNode implements the flowd.Node interface for user-supplied Lua
// scripts. The script runs in a state with only the base, table, string and
// math libraries plus an explicit allow-listed helper table; there is no
// filesystem, process or network access.
type FunctionNode struct {
	raw map[string]any
	cfg functionConfig
}

// NewFunctionNode builds a function node from its configuration blob.
func NewFunctionNode(config map[string]any) (*FunctionNode, error) {
	var cfg functionConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	return &FunctionNode{raw: config, cfg: cfg}, nil
}

func (n *FunctionNode) Type() string           { return TypeFunction }
func (n *FunctionNode) Config() map[string]any { return n.raw }

func (n *FunctionNode) Name() string {
	if n.cfg.Name != "" {
		return n.cfg.Name
	}
	return "Code Function"
}

// Validate rejects empty scripts and scripts referencing sandbox escapes.
func (n *FunctionNode) Validate() error {
	if strings.TrimSpace(n.cfg.Code) == "" {
		return configErr(TypeFunction, "code is required")
	}
	for _, pattern := range forbiddenPatterns {
		if pattern.MatchString(n.cfg.Code) {
			return configErr(TypeFunction, "potentially dangerous code detected")
		}
	}
	return nil
}

// Execute runs the script with mapped input variables bound as globals. The
// script's return value (or, failing that, an `output` global) becomes the
// result data; output_mapping remaps keys of a table result.
func (n *FunctionNode) Execute(ctx context.Context, input map[string]any) (flowd.Result, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	L.SetContext(ctx)

	openSandboxLibs(L)
	n.installHelpers(L)

	inputTable := L.NewTable()
	for varName, inputKey := range n.cfg.InputMapping {
		value := toLValue(L, lookupPath(input, inputKey))
		inputTable.RawSetString(varName, value)
		L.SetGlobal(varName, value)
	}
	L.SetGlobal("input", inputTable)

	if err := L.DoString(n.cfg.Code); err != nil {
		return nil, configErr(TypeFunction, "code execution error: %v", err)
	}

	var result any
	if L.GetTop() > 0 {
		result = fromLValue(L.Get(-1))
	} else {
		result = fromLValue(L.GetGlobal("output"))
	}

	return flowd.Result{
		"success": true,
		"data":    result,
		"output":  mapOutput(result, n.cfg.OutputMapping),
	}, nil
}

// openSandboxLibs loads the safe subset of the standard libraries and strips
// the base-library entry points that load further code.
func openSandboxLibs(L *lua.LState) {
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "print", "collectgarbage"} {
		L.SetGlobal(name, lua.LNil)
	}
}

// helper functions exposed to scripts, keyed by allow-list name
var helperTable = map[string]lua.LGFunction{
	"upper": func(L *lua.LState) int {
		L.Push(lua.LString(strings.ToUpper(L.CheckString(1))))
		return 1
	},
	"lower": func(L *lua.LState) int {
		L.Push(lua.LString(strings.ToLower(L.CheckString(1))))
		return 1
	},
	"trim": func(L *lua.LState) int {
		L.Push(lua.LString(strings.TrimSpace(L.CheckString(1))))
		return 1
	},
	"split": func(L *lua.LState) int {
		parts := strings.Split(L.CheckString(1), L.CheckString(2))
		tbl := L.NewTable()
		for i, p := range parts {
			tbl.RawSetInt(i+1, lua.LString(p))
		}
		L.Push(tbl)
		return 1
	},
	"join": func(L *lua.LState) int {
		tbl := L.CheckTable(1)
		sep := L.CheckString(2)
		var parts []string
		tbl.ForEach(func(_, v lua.LValue) {
			parts = append(parts, v.String())
		})
		L.Push(lua.LString(strings.Join(parts, sep)))
		return 1
	},
	"contains": func(L *lua.LState) int {
		L.Push(lua.LBool(strings.Contains(L.CheckString(1), L.CheckString(2))))
		return 1
	},
	"replace": func(L *lua.LState) int {
		L.Push(lua.LString(strings.ReplaceAll(L.CheckString(1), L.CheckString(2), L.CheckString(3))))
		return 1
	},
	"json_encode": func(L *lua.LState) int {
		b, err := json.Marshal(fromLValue(L.Get(1)))
		if err != nil {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LString(b))
		return 1
	},
	"json_decode": func(L *lua.LState) int {
		var decoded any
		if err := json.Unmarshal([]byte(L.CheckString(1)), &decoded); err != nil {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(toLValue(L, decoded))
		return 1
	},
	"now": func(L *lua.LState) int {
		L.Push(lua.LString(timestamp()))
		return 1
	},
	"uuid": func(L *lua.LState) int {
		L.Push(lua.LString(uuid.New().String()))
		return 1
	},
}

func (n *FunctionNode) installHelpers(L *lua.LState) {
	allowed := n.cfg.AllowedFunctions
	if len(allowed) == 0 {
		for name, fn := range helperTable {
			L.SetGlobal(name, L.NewFunction(fn))
		}
		return
	}
	for _, name := range allowed {
		if fn, ok := helperTable[name]; ok {
			L.SetGlobal(name, L.NewFunction(fn))
		}
	}
}

// lookupPath resolves a dotted key path against the input map.
func lookupPath(input map[string]any, path string) any {
	if input == nil {
		return nil
	}
	current := any(input)
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}

func mapOutput(result any, mapping map[string]string) map[string]any {
	output := map[string]any{}
	m, ok := result.(map[string]any)
	if !ok {
		return output
	}
	for outputKey, resultKey := range mapping {
		output[outputKey] = m[resultKey]
	}
	return output
}

func toLValue(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case string:
		return lua.LString(val)
	case float64:
		return lua.LNumber(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case bool:
		return lua.LBool(val)
	case map[string]any:
		tbl := L.NewTable()
		for k, v2 := range val {
			tbl.RawSetString(k, toLValue(L, v2))
		}
		return tbl
	case []any:
		tbl := L.NewTable()
		for i, v2 := range val {
			tbl.RawSetInt(i+1, toLValue(L, v2))
		}
		return tbl
	default:
		return lua.LNil
	}
}

func fromLValue(v lua.LValue) any {
	switch val := v.(type) {
	case lua.LString:
		return string(val)
	case lua.LNumber:
		return float64(val)
	case lua.LBool:
		return bool(val)
	case *lua.LTable:
		isArr := true
		maxIdx := 0
		val.ForEach(func(k, _ lua.LValue) {
			if idx, ok := k.(lua.LNumber); ok && float64(idx) == float64(int(idx)) && idx > 0 {
				if int(idx) > maxIdx {
					maxIdx = int(idx)
				}
			} else {
				isArr = false
			}
		})
		if isArr && maxIdx > 0 {
			arr := make([]any, maxIdx)
			val.ForEach(func(k, v2 lua.LValue) {
				arr[int(k.(lua.LNumber))-1] = fromLValue(v2)
			})
			return arr
		}
		m := make(map[string]any)
		val.ForEach(func(k, v2 lua.LValue) {
			m[k.String()] = fromLValue(v2)
		})
		return m
	default:
		return nil
	}
}

func (n *FunctionNode) OutputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"success": map[string]any{"type": "boolean"},
			"data":    map[string]any{"type": "mixed"},
			"output":  map[string]any{"type": "object"},
		},
	}
}

var _ flowd.Node = (*FunctionNode)(nil)
