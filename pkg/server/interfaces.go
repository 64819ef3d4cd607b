package server

import "github.com/aeolun/wirehub/pkg/store"

// DataStore defines the store operations the protocol layer and its
// handlers consume. This abstraction keeps the dispatcher testable
// against mock stores.
type DataStore interface {
	// Principal operations
	PrincipalsBySessionKey(key string) ([]*store.Principal, error)
	VerifyCredentials(name, password string) (*store.Principal, error)
	SetSessionKey(principalID int64, key string) error
	ClearSessionKey(principalID int64) error

	// Node operations
	CreateNode(nodeType string, data map[string]any, ownerID *int64) (int64, error)
	GetNode(id int64) (*store.Node, error)
	UpdateNode(id int64, data map[string]any) error
	DeleteNode(id int64) error
	ListNodes(nodeType string) ([]*store.Node, error)
}
