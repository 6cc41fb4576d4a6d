package httpconn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeForm(t *testing.T) {
	c := newTestConn()
	c.req.Body = []byte("username=bob&password=s3cr3t")
	c.decodeForm()

	assert.Equal(t, "bob", c.req.Form["username"])
	assert.Equal(t, "s3cr3t", c.req.Form["password"])
}

func TestLoginMissingFieldsReturns400(t *testing.T) {
	c := newTestConn()
	c.req.Form = map[string]string{"username": "bob"}
	c.handleLogin()
	assert.Contains(t, string(c.out.Peek()), "400 Bad Request")
}

func TestLoginWithoutPoolReturns503(t *testing.T) {
	old := DB
	DB = nil
	t.Cleanup(func() { DB = old })

	c := newTestConn()
	c.req.Form = map[string]string{"username": "bob", "password": "x"}
	c.handleLogin()
	assert.Contains(t, string(c.out.Peek()), "503 Service Unavailable")
}

func TestRegisterMissingFieldsReturns400(t *testing.T) {
	c := newTestConn()
	c.req.Form = map[string]string{"password": "x"}
	c.handleRegister()
	assert.Contains(t, string(c.out.Peek()), "400 Bad Request")
}
