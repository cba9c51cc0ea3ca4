package model

import (
	"time"

	"gorm.io/gorm"
)

// ConnectorProvider identifies an external source documents are imported from
type ConnectorProvider string

const (
	ConnectorProviderNotion   ConnectorProvider = "notion"
	ConnectorProviderReadwise ConnectorProvider = "readwise"
	ConnectorProviderPocket   ConnectorProvider = "pocket"
	ConnectorProviderRSS      ConnectorProvider = "rss"
)

// Connector is a user-registered external source. Credentials are stored
// encrypted (AES-256-GCM, key derived from the server secret via Argon2id);
// the plaintext is only reconstructed inside the sync handler.
type Connector struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	UserID   uint              `gorm:"index;not null" json:"user_id"`
	Provider ConnectorProvider `gorm:"type:varchar(20);not null" json:"provider"`
	Label    string            `gorm:"type:varchar(120)" json:"label,omitempty"`

	EncryptedCredentials []byte `gorm:"type:bytea" json:"-"`
	CredentialsNonce     []byte `gorm:"type:bytea" json:"-"`
	CredentialsSalt      []byte `gorm:"type:bytea" json:"-"`

	// CursorToken is the provider-side incremental sync position
	CursorToken  string     `gorm:"type:varchar(255)" json:"-"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	LastError    string     `gorm:"type:text" json:"last_error,omitempty"`
}

// TableName specifies the table name for Connector
func (Connector) TableName() string {
	return "connectors"
}
