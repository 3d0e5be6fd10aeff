package conn

import (
	"fmt"

	"github.com/ValentinKolb/skv/rpc/wire"
)

// Authenticator performs the security handshake on new connections. The
// password is hashed once at creation, every connection then reuses the
// derived credential.
type Authenticator struct {
	user       string
	credential []byte
}

// NewAuthenticator hashes the password and returns an authenticator for
// the user. Returns nil when no credentials are configured.
func NewAuthenticator(user, password string) (*Authenticator, error) {
	if user == "" && password == "" {
		return nil, nil
	}
	credential, err := wire.HashPassword(password)
	if err != nil {
		return nil, err
	}
	return &Authenticator{user: user, credential: credential}, nil
}

// User returns the authenticated user name
func (a *Authenticator) User() string {
	return a.user
}

// Login runs the login command on a fresh connection. Clusters without
// security respond with a dedicated code which is treated as success so
// the same client configuration works on both setups.
func (a *Authenticator) Login(c *Connection) error {
	buf := wire.NewBuffer()
	if err := buf.SetLogin(a.user, a.credential); err != nil {
		return err
	}
	return a.execute(c, buf, "login")
}

// Authenticate runs the authenticate command, used for every connection
// after the first successful login.
func (a *Authenticator) Authenticate(c *Connection) error {
	buf := wire.NewBuffer()
	if err := buf.SetAuthenticate(a.user, a.credential); err != nil {
		return err
	}
	return a.execute(c, buf, "authenticate")
}

func (a *Authenticator) execute(c *Connection, buf *wire.Buffer, what string) error {
	if err := c.WriteFrame(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to send %s for user %q: %w", what, a.user, err)
	}
	_, payload, err := c.ReadFrame()
	if err != nil {
		return fmt.Errorf("failed to read %s response for user %q: %w", what, a.user, err)
	}
	code, err := wire.ParseAdminResult(payload)
	if err != nil {
		return err
	}
	switch code {
	case wire.ResultOk, wire.ResultSecurityNotEnabled:
		return nil
	default:
		return fmt.Errorf("%s failed for user %q: %s", what, a.user, code)
	}
}
