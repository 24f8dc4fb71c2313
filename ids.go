package linkauth

import (
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

var (
	auditNode     *snowflake.Node
	auditNodeOnce sync.Once
	auditNodeErr  error
)

// SetAuditNode configures the snowflake node id used for audit entry ids.
// Only the first call has an effect; later calls return the first result.
func SetAuditNode(nodeID int64) error {
	auditNodeOnce.Do(func() {
		auditNode, auditNodeErr = snowflake.NewNode(nodeID)
	})
	return auditNodeErr
}

// NewAuditID returns a time ordered id for an audit entry
func NewAuditID() string {
	if err := SetAuditNode(1); err != nil || auditNode == nil {
		return uuid.NewString()
	}
	return auditNode.Generate().String()
}

// NewID returns a random id for accounts and identity records
func NewID() string {
	return uuid.NewString()
}
