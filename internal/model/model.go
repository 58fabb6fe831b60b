package model

import (
	"time"

	"github.com/google/uuid"
	pgvec "github.com/pgvector/pgvector-go"
)

// User is a registered account. Users are created once and never re-keyed.
type User struct {
	// ID is the stable opaque user identifier.
	ID string `json:"id" gorm:"primaryKey;column:id"`

	// OpaqueToken is the URL-safe identifier used by the token-in-URL MCP transport.
	OpaqueToken string `json:"-" gorm:"uniqueIndex;not null;column:opaque_token"`

	Email        *string   `json:"email,omitempty" gorm:"uniqueIndex"`
	Name         string    `json:"name"`
	PasswordHash *string   `json:"-" gorm:"column:password_hash"`
	IsActive     bool      `json:"isActive" gorm:"not null;default:true;column:is_active"`
	CreatedAt    time.Time `json:"createdAt" gorm:"not null;default:now()"`
	UpdatedAt    time.Time `json:"updatedAt" gorm:"not null;default:now()"`
}

func (User) TableName() string { return "users" }

// APIKey binds a long-lived API key to a user.
type APIKey struct {
	ID        uuid.UUID  `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	KeyHash   string     `json:"-" gorm:"uniqueIndex;not null;column:key_hash"`
	UserID    string     `json:"userId" gorm:"not null;index;column:user_id"`
	Label     string     `json:"label"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty" gorm:"column:expires_at"`
	CreatedAt time.Time  `json:"createdAt" gorm:"not null;default:now()"`
}

func (APIKey) TableName() string { return "api_keys" }

// IndexEntry is one row of the central memory index (CMI): a compressed
// summary of a memory that lives in a module table. (ModuleID, RemoteMemoryID)
// is the unique key; index entries are derived state and rebuildable.
type IndexEntry struct {
	ID              uuid.UUID      `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	UserID          string         `json:"userId" gorm:"not null;index;column:user_id"`
	ModuleID        string         `json:"moduleId" gorm:"not null;uniqueIndex:idx_module_remote;column:module_id"`
	RemoteMemoryID  uuid.UUID      `json:"remoteMemoryId" gorm:"not null;uniqueIndex:idx_module_remote;type:uuid;column:remote_memory_id"`
	Title           string         `json:"title"`
	Summary         string         `json:"summary"`
	Keywords        []string       `json:"keywords" gorm:"type:jsonb;serializer:json"`
	Categories      []string       `json:"categories" gorm:"type:jsonb;serializer:json"`
	ImportanceScore float64        `json:"importanceScore" gorm:"not null;default:0.5;column:importance_score"`
	Embedding       pgvec.Vector   `json:"-" gorm:"type:vector(512)"`
	CreatedAt       time.Time      `json:"createdAt" gorm:"not null;default:now()"`
	UpdatedAt       time.Time      `json:"updatedAt" gorm:"not null;default:now()"`
}

func (IndexEntry) TableName() string { return "memory_index" }

// Relationship links two memories, possibly across modules. Relationships are
// purely additive; deleting either endpoint cascades to the relationship.
type Relationship struct {
	ID               uuid.UUID      `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	UserID           string         `json:"userId" gorm:"not null;index;column:user_id"`
	SourceModule     string         `json:"sourceModule" gorm:"not null;column:source_module"`
	SourceMemoryID   uuid.UUID      `json:"sourceMemoryId" gorm:"not null;type:uuid;index;column:source_memory_id"`
	TargetModule     string         `json:"targetModule" gorm:"not null;column:target_module"`
	TargetMemoryID   uuid.UUID      `json:"targetMemoryId" gorm:"not null;type:uuid;index;column:target_memory_id"`
	RelationshipType string         `json:"relationshipType" gorm:"not null;column:relationship_type"`
	Strength         float64        `json:"strength" gorm:"not null;default:0.5"`
	Metadata         map[string]any `json:"metadata" gorm:"type:jsonb;serializer:json"`
	CreatedAt        time.Time      `json:"createdAt" gorm:"not null;default:now()"`
}

func (Relationship) TableName() string { return "memory_relationships" }

// Category is a user-defined entry in the category registry.
type Category struct {
	ID          uuid.UUID `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	UserID      string    `json:"userId" gorm:"not null;uniqueIndex:idx_user_category;column:user_id"`
	Name        string    `json:"name" gorm:"not null;uniqueIndex:idx_user_category"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt" gorm:"not null;default:now()"`
}

func (Category) TableName() string { return "memory_categories" }

// UserContext is the resolved principal attached to a session.
type UserContext struct {
	UserID      string `json:"userId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
}
