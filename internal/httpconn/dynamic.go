package httpconn

import (
	"context"
	"database/sql/driver"
	"fmt"
	"net/url"
	"time"

	"github.com/s00inx/reactorweb/internal/logsink"
)

const dbTimeout = 2 * time.Second

// handle dispatches a fully-parsed request to either a dynamic endpoint
// or the static file server, writing the result into the egress buffer.
func (c *Conn) handle() {
	switch {
	case c.req.Path == "/login" && c.req.Method == "POST":
		c.decodeForm()
		c.handleLogin()
	case c.req.Path == "/register" && c.req.Method == "POST":
		c.decodeForm()
		c.handleRegister()
	default:
		c.serveStatic(c.req.Path)
	}
}

// decodeForm parses application/x-www-form-urlencoded fields out of the
// request body, the CGI-style decoding the original server's login and
// register handlers performed directly on the raw POST body.
func (c *Conn) decodeForm() {
	values, err := url.ParseQuery(string(c.req.Body))
	if err != nil {
		c.req.Form = map[string]string{}
		return
	}
	form := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			form[k] = v[0]
		}
	}
	c.req.Form = form
}

func (c *Conn) handleLogin() {
	username := c.req.Form["username"]
	password := c.req.Form["password"]
	if username == "" || password == "" {
		c.buildErrorResponse(400)
		return
	}

	if DB == nil {
		c.buildErrorResponse(503)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	ok, err := checkCredentials(ctx, username, password)
	if err != nil {
		logsink.Errorf("httpconn: login query: %v", err)
		c.buildErrorResponse(500)
		return
	}
	if !ok {
		body := []byte("invalid username or password")
		c.writeHeaders(401, "text/plain", len(body))
		c.out.Append(body)
		return
	}

	body := []byte("login ok")
	c.writeHeaders(200, "text/plain", len(body))
	c.out.Append(body)
}

func (c *Conn) handleRegister() {
	username := c.req.Form["username"]
	password := c.req.Form["password"]
	if username == "" || password == "" {
		c.buildErrorResponse(400)
		return
	}

	if DB == nil {
		c.buildErrorResponse(503)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	exists, err := checkCredentials(ctx, username, "")
	if err == nil && exists {
		body := []byte("username already exists")
		c.writeHeaders(409, "text/plain", len(body))
		c.out.Append(body)
		return
	}

	if err := insertUser(ctx, username, password); err != nil {
		logsink.Errorf("httpconn: register insert: %v", err)
		c.buildErrorResponse(500)
		return
	}

	body := []byte("register ok")
	c.writeHeaders(200, "text/plain", len(body))
	c.out.Append(body)
}

// checkCredentials runs a single SELECT against the user table on a
// handle briefly checked out from the pool. password == "" checks only
// for username existence (used by register's duplicate check).
func checkCredentials(ctx context.Context, username, password string) (bool, error) {
	var found bool
	err := DB.WithHandle(ctx, func(conn driver.Conn) error {
		queryer, ok := conn.(driver.QueryerContext)
		if !ok {
			return fmt.Errorf("httpconn: driver does not support QueryerContext")
		}
		var args []driver.NamedValue
		query := "SELECT password FROM user WHERE username = ?"
		args = []driver.NamedValue{{Ordinal: 1, Value: username}}

		rows, err := queryer.QueryContext(ctx, query, args)
		if err != nil {
			return err
		}
		defer rows.Close()

		dest := make([]driver.Value, 1)
		if err := rows.Next(dest); err != nil {
			return nil // no matching row; found stays false
		}
		if password == "" {
			found = true
			return nil
		}
		found = valueToString(dest[0]) == password
		return nil
	})
	return found, err
}

// valueToString reads a driver.Value text column as a string. mysql's
// driver.Rows hands back TEXT/VARCHAR columns as []byte, not string, so a
// bare type assertion to string silently yields "" for every row.
func valueToString(v driver.Value) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return ""
	}
}

// insertUser inserts a new user row on a pooled handle.
func insertUser(ctx context.Context, username, password string) error {
	return DB.WithHandle(ctx, func(conn driver.Conn) error {
		execer, ok := conn.(driver.ExecerContext)
		if !ok {
			return fmt.Errorf("httpconn: driver does not support ExecerContext")
		}
		args := []driver.NamedValue{
			{Ordinal: 1, Value: username},
			{Ordinal: 2, Value: password},
		}
		_, err := execer.ExecContext(ctx, "INSERT INTO user(username, password) VALUES (?, ?)", args)
		return err
	})
}
