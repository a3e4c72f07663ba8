package node

import (
	"context"
	"strings"

	"github.com/marmos91/nfs4client/internal/protocol/nfs/v4/types"
)

// Named attribute names may contain '/', which the local VFS cannot pass
// through as a single component. They are escaped on the way out and
// unescaped on the way in.
var (
	attrNameEscaper   = strings.NewReplacer("%", "%25", "/", "%2F")
	attrNameUnescaper = strings.NewReplacer("%2F", "/", "%2f", "/", "%25", "%")
)

// EscapeAttrName converts a server attribute name to its local form.
func EscapeAttrName(name string) string { return attrNameEscaper.Replace(name) }

// UnescapeAttrName converts a local attribute name to the server form.
func UnescapeAttrName(name string) string { return attrNameUnescaper.Replace(name) }

// attrDir makes sure the named-attribute directory handle is known,
// creating the directory on the server when create is set.
func (n *Inode) attrDir(ctx context.Context, create bool) error {
	if n.names.AttrDir().IsValid() {
		return nil
	}
	_, err := n.OpenAttrDir(ctx, create)
	return err
}

// hasNoAttrDir reports an OPENATTR failure meaning the node has no named
// attributes yet.
func hasNoAttrDir(err error) bool {
	return types.IsStatus(err, types.NFS4ERR_NOENT)
}
