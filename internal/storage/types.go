package storage

import (
	"encoding"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// Identity keys. The token is kept under two aliases because older dashboard
// modules read "authToken" while newer ones read "token".
const (
	KeyToken     = "token"
	KeyAuthToken = "authToken"
	KeyUserID    = "userId"
	KeyUserRole  = "userRole"
)

// IdentityKeys lists every key that is cleared on logout.
var IdentityKeys = []string{KeyToken, KeyAuthToken, KeyUserID, KeyUserRole}

type DBValue struct {
	Name      string `msgpack:"name"`
	Value     string `msgpack:"value"`
	UpdatedAt int64  `msgpack:"updatedAt"`
}

func (v *DBValue) Key() []byte {
	return []byte(v.Name)
}

func (v *DBValue) MarshalBinary() (data []byte, err error) {
	type alias DBValue
	return msgpack.Marshal((*alias)(v))
}

func (v *DBValue) UnmarshalBinary(data []byte) error {
	type alias DBValue
	return msgpack.Unmarshal(data, (*alias)(v))
}
