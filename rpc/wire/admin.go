package wire

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ----- Security Protocol -----

// Admin commands share the proto header with regular messages but use a
// 16 byte command header: two reserved bytes, the command id, the field
// count and 12 bytes of padding.
const adminHeaderSize = 16

const (
	adminCmdAuthenticate = 0
	adminCmdLogin        = 20
)

// Admin field ids.
const (
	adminFieldUser       = 0
	adminFieldPassword   = 1
	adminFieldCredential = 3
)

// bcryptCost is the work factor used for password credentials. The
// server stores and compares bcrypt hashes, never plaintext.
const bcryptCost = 10

// HashPassword derives the wire credential for a password. The result is
// a bcrypt hash and safe to cache for the lifetime of the client.
func HashPassword(password string) ([]byte, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	return hash, nil
}

// SetLogin builds the login command sent on the first connection to a
// node.
func (b *Buffer) SetLogin(user string, credential []byte) error {
	return b.setAdminCommand(adminCmdLogin, user, credential)
}

// SetAuthenticate builds the authenticate command sent on every further
// connection of an authenticated client.
func (b *Buffer) SetAuthenticate(user string, credential []byte) error {
	return b.setAdminCommand(adminCmdAuthenticate, user, credential)
}

func (b *Buffer) setAdminCommand(command uint8, user string, credential []byte) error {
	if user == "" {
		return fmt.Errorf("authentication requires a user name")
	}

	size := ProtoHeaderSize + adminHeaderSize +
		FieldHeaderSize + len(user) +
		FieldHeaderSize + len(credential)
	if size > len(b.data) {
		b.data = make([]byte, size)
	}

	b.pos = ProtoHeaderSize
	b.writeUint8(0)
	b.writeUint8(0)
	b.writeUint8(command)
	b.writeUint8(2) // field count
	for i := 0; i < 12; i++ {
		b.writeUint8(0)
	}
	b.writeAdminField(adminFieldUser, []byte(user))
	b.writeAdminField(adminFieldCredential, credential)
	b.end(ProtoTypeSecurity)
	return nil
}

func (b *Buffer) writeAdminField(id uint8, data []byte) {
	b.writeUint32(uint32(len(data) + 1))
	b.writeUint8(id)
	b.writeBytes(data)
}

// ParseAdminResult extracts the result code from an admin response
// payload. The payload starts after the proto header, the code sits in
// the second byte of the command header.
func ParseAdminResult(buf []byte) (ResultCode, error) {
	if len(buf) < 2 {
		return 0, fmt.Errorf("data too short for admin response: %d bytes", len(buf))
	}
	return ResultCode(buf[1]), nil
}
