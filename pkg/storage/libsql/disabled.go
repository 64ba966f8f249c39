//go:build !libsql

package libsql

import (
	"context"
	"errors"

	"github.com/papercomputeco/keepsake/pkg/storage/sqlstore"
)

// Enabled reports whether libSQL support is compiled in.
const Enabled = false

// ErrDisabled is returned when the binary was built without the libsql tag.
var ErrDisabled = errors.New("libsql support not compiled in: rebuild with -tags libsql")

// Driver implements storage.Driver on libSQL.
type Driver struct {
	*sqlstore.Driver
}

// NewDriver always fails in builds without the libsql tag.
func NewDriver(_ context.Context, _ string) (*Driver, error) {
	return nil, ErrDisabled
}
