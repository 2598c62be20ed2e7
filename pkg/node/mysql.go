package node

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/user/flowd"
)

// Queries matching any of these patterns are refused outright; workflow nodes
// are not a migration tool.
var destructivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bDROP\b`),
	regexp.MustCompile(`(?i)\bTRUNCATE\b`),
	regexp.MustCompile(`(?i)\bDELETE\s+FROM\b`),
	regexp.MustCompile(`(?i)\bUPDATE\b[\s\S]*\bSET\b`),
	regexp.MustCompile(`(?i)\bINSERT\s+INTO\b`),
}

var namedParamPattern = regexp.MustCompile(`:([A-Za-z_][A-Za-z0-9_]*)`)

type mysqlConfig struct {
	Name     string `json:"name"`
	Query    string `json:"query"`
	Host     string `json:"host"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password"`
	Port     int    `json:"port"`
	Charset  string `json:"charset"`
}

// MySQLNode implements the flowd.Node interface for ad-hoc queries against an
// external MySQL database. Each invocation opens its own connection; the
// application store is never touched.
type MySQLNode struct {
	raw map[string]any
	cfg mysqlConfig
}

// NewMySQLNode builds a mysql_query node from its configuration blob.
func NewMySQLNode(config map[string]any) (*MySQLNode, error) {
	cfg := mysqlConfig{
		Host:    "localhost",
		Port:    3306,
		Charset: "utf8mb4",
	}
	if err := decodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	return &MySQLNode{raw: config, cfg: cfg}, nil
}

func (n *MySQLNode) Type() string           { return TypeMySQLQuery }
func (n *MySQLNode) Config() map[string]any { return n.raw }

func (n *MySQLNode) Name() string {
	if n.cfg.Name != "" {
		return n.cfg.Name
	}
	return "MySQL Query"
}

// Validate rejects empty and destructive queries.
func (n *MySQLNode) Validate() error {
	if strings.TrimSpace(n.cfg.Query) == "" {
		return configErr(TypeMySQLQuery, "query is required")
	}
	if n.cfg.Database == "" {
		return configErr(TypeMySQLQuery, "database name is required")
	}
	for _, pattern := range destructivePatterns {
		if pattern.MatchString(n.cfg.Query) {
			return configErr(TypeMySQLQuery, "potentially destructive query detected")
		}
	}
	return nil
}

// Execute opens a dedicated connection, binds named parameters from
// input.params and runs the query.
func (n *MySQLNode) Execute(ctx context.Context, input map[string]any) (flowd.Result, error) {
	query := substitute(n.cfg.Query, dataMap(input))
	query, args := bindNamedParams(query, paramsMap(input))

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=true",
		n.cfg.Username, n.cfg.Password, n.cfg.Host, n.cfg.Port, n.cfg.Database, n.cfg.Charset)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mysql: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	var payload any
	rowCount := 0
	if returnsRows(query) {
		rows, err := queryRows(ctx, db, query, args)
		if err != nil {
			return nil, fmt.Errorf("query execution failed: %w", err)
		}
		payload = rows
		rowCount = len(rows)
	} else {
		res, err := db.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("query execution failed: %w", err)
		}
		affected, _ := res.RowsAffected()
		insertID, _ := res.LastInsertId()
		payload = map[string]any{
			"affected_rows": affected,
			"insert_id":     insertID,
		}
		rowCount = int(affected)
	}

	return flowd.Result{
		"success":     true,
		"data":        payload,
		"row_count":   rowCount,
		"executed_at": timestamp(),
	}, nil
}

// paramsMap extracts the conventional "params" sub-map from a node input.
func paramsMap(input map[string]any) map[string]any {
	if input == nil {
		return nil
	}
	if m, ok := input["params"].(map[string]any); ok {
		return m
	}
	return nil
}

// bindNamedParams rewrites :name placeholders to driver placeholders and
// collects the corresponding arguments in order. Unknown names are left
// untouched so column references like tz offsets do not break.
func bindNamedParams(query string, params map[string]any) (string, []any) {
	if len(params) == 0 || !strings.Contains(query, ":") {
		return query, nil
	}
	var args []any
	rewritten := namedParamPattern.ReplaceAllStringFunc(query, func(match string) string {
		name := match[1:]
		value, ok := params[name]
		if !ok {
			return match
		}
		args = append(args, value)
		return "?"
	})
	return rewritten, args
}

func returnsRows(query string) bool {
	head := strings.ToUpper(strings.TrimSpace(query))
	for _, prefix := range []string{"SELECT", "SHOW", "DESCRIBE", "EXPLAIN", "WITH"} {
		if strings.HasPrefix(head, prefix) {
			return true
		}
	}
	return false
}

func queryRows(ctx context.Context, db *sql.DB, query string, args []any) ([]map[string]any, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (n *MySQLNode) OutputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"success":     map[string]any{"type": "boolean"},
			"data":        map[string]any{"type": "array"},
			"row_count":   map[string]any{"type": "integer"},
			"executed_at": map[string]any{"type": "string"},
		},
	}
}

var _ flowd.Node = (*MySQLNode)(nil)
