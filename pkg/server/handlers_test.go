package server

import (
	"strconv"
	"testing"

	"github.com/aeolun/wirehub/pkg/store"
)

func TestCreateRequiresAuthentication(t *testing.T) {
	hub, st := testHub(t)

	conn := newMockConn()
	sess := hub.Connect(conn)

	hub.HandleMessage(sess, []byte(`{"command":"create","data":{"name":"x"}}`))

	if len(conn.Writes()) != 0 {
		t.Error("Unauthenticated create must produce no reply")
	}
	nodes, err := st.ListNodes("")
	if err != nil {
		t.Fatalf("ListNodes failed: %v", err)
	}
	if len(nodes) != 0 {
		t.Error("Unauthenticated create must not touch the store")
	}
}

func TestCreateRecordsOwner(t *testing.T) {
	hub, st := testHub(t)
	aliceID, err := st.CreatePrincipal("alice", "p")
	if err != nil {
		t.Fatalf("CreatePrincipal failed: %v", err)
	}

	sess, _ := loginSession(t, hub, "alice", "p")
	hub.HandleMessage(sess, []byte(`{"command":"create","data":{"type":"page","name":"home"}}`))

	nodes, err := st.ListNodes("page")
	if err != nil {
		t.Fatalf("ListNodes failed: %v", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("Expected 1 node, got %d", len(nodes))
	}
	if nodes[0].OwnerID == nil || *nodes[0].OwnerID != aliceID {
		t.Error("Created node should be owned by the session's principal")
	}
}

func TestUpdateBroadcastsChange(t *testing.T) {
	hub, st := testHub(t)
	if _, err := st.CreatePrincipal("alice", "p"); err != nil {
		t.Fatalf("CreatePrincipal failed: %v", err)
	}

	nodeID, err := st.CreateNode("page", map[string]any{"name": "home"}, nil)
	if err != nil {
		t.Fatalf("CreateNode failed: %v", err)
	}

	sess, conn := loginSession(t, hub, "alice", "p")
	id := strconv.FormatInt(nodeID, 10)
	hub.HandleMessage(sess, []byte(`{"command":"update","id":"`+id+`","data":{"name":"start"}}`))

	node, err := st.GetNode(nodeID)
	if err != nil {
		t.Fatalf("GetNode failed: %v", err)
	}
	if node.Data["name"] != "start" {
		t.Errorf("Expected updated data, got %v", node.Data["name"])
	}

	writes := conn.Writes()
	if len(writes) != 1 {
		t.Fatalf("Expected 1 broadcast delivery, got %d", len(writes))
	}
	env := decodeWrite(t, writes[0])
	if env.Command != "update" || env.ID != id {
		t.Error("Broadcast should carry the update command and record identity")
	}
}

func TestUpdateMissingIdentifier(t *testing.T) {
	hub, st := testHub(t)
	if _, err := st.CreatePrincipal("alice", "p"); err != nil {
		t.Fatalf("CreatePrincipal failed: %v", err)
	}

	sess, conn := loginSession(t, hub, "alice", "p")
	hub.HandleMessage(sess, []byte(`{"command":"update","data":{"name":"x"}}`))
	hub.HandleMessage(sess, []byte(`{"command":"update","id":"not-a-number"}`))

	if len(conn.Writes()) != 0 {
		t.Error("Update without a usable identifier must not broadcast")
	}
}

func TestDeleteBroadcasts(t *testing.T) {
	hub, st := testHub(t)
	if _, err := st.CreatePrincipal("alice", "p"); err != nil {
		t.Fatalf("CreatePrincipal failed: %v", err)
	}

	nodeID, err := st.CreateNode("page", map[string]any{"name": "home"}, nil)
	if err != nil {
		t.Fatalf("CreateNode failed: %v", err)
	}

	sess, conn := loginSession(t, hub, "alice", "p")
	id := strconv.FormatInt(nodeID, 10)
	hub.HandleMessage(sess, []byte(`{"command":"delete","id":"`+id+`"}`))

	if _, err := st.GetNode(nodeID); err == nil {
		t.Error("Node should be deleted")
	}

	writes := conn.Writes()
	if len(writes) != 1 {
		t.Fatalf("Expected 1 broadcast delivery, got %d", len(writes))
	}
	env := decodeWrite(t, writes[0])
	if env.Command != "delete" || env.ID != id {
		t.Error("Broadcast should carry the delete command and record identity")
	}
}

func TestGetRepliesWithoutBroadcast(t *testing.T) {
	hub, st := testHub(t)
	if _, err := st.CreatePrincipal("alice", "p"); err != nil {
		t.Fatalf("CreatePrincipal failed: %v", err)
	}
	if _, err := st.CreatePrincipal("bob", "p"); err != nil {
		t.Fatalf("CreatePrincipal failed: %v", err)
	}

	nodeID, err := st.CreateNode("page", map[string]any{"name": "home"}, nil)
	if err != nil {
		t.Fatalf("CreateNode failed: %v", err)
	}

	sess, conn := loginSession(t, hub, "alice", "p")
	_, bobConn := loginSession(t, hub, "bob", "p")

	id := strconv.FormatInt(nodeID, 10)
	hub.HandleMessage(sess, []byte(`{"command":"get","id":"`+id+`"}`))

	writes := conn.Writes()
	if len(writes) != 1 {
		t.Fatalf("Expected 1 direct reply, got %d", len(writes))
	}
	env := decodeWrite(t, writes[0])
	if env.Data["name"] != "home" {
		t.Errorf("Reply should carry the node data, got %v", env.Data)
	}
	if env.Data["id"] != id {
		t.Errorf("Reply should expose identity under the configured field, got %v", env.Data["id"])
	}
	if env.Data["type"] != "page" {
		t.Errorf("Reply should carry the node type, got %v", env.Data["type"])
	}

	if len(bobConn.Writes()) != 0 {
		t.Error("Reads must never be broadcast")
	}
}

func TestGetUsesConfiguredIdentityField(t *testing.T) {
	initTestLoggers(t)

	st, err := store.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to open test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	hub, err := NewHub(st, "uuid")
	if err != nil {
		t.Fatalf("Failed to create hub: %v", err)
	}
	if _, err := st.CreatePrincipal("alice", "p"); err != nil {
		t.Fatalf("CreatePrincipal failed: %v", err)
	}

	nodeID, err := st.CreateNode("page", map[string]any{"name": "home"}, nil)
	if err != nil {
		t.Fatalf("CreateNode failed: %v", err)
	}

	sess, conn := loginSession(t, hub, "alice", "p")
	id := strconv.FormatInt(nodeID, 10)
	hub.HandleMessage(sess, []byte(`{"command":"get","id":"`+id+`"}`))

	writes := conn.Writes()
	if len(writes) != 1 {
		t.Fatalf("Expected 1 direct reply, got %d", len(writes))
	}
	env := decodeWrite(t, writes[0])
	if env.Data["uuid"] != id {
		t.Errorf("Identity should be exposed under the configured field, got %v", env.Data)
	}
}

func TestListFiltersByType(t *testing.T) {
	hub, st := testHub(t)
	if _, err := st.CreatePrincipal("alice", "p"); err != nil {
		t.Fatalf("CreatePrincipal failed: %v", err)
	}

	if _, err := st.CreateNode("page", map[string]any{"name": "a"}, nil); err != nil {
		t.Fatalf("CreateNode failed: %v", err)
	}
	if _, err := st.CreateNode("page", map[string]any{"name": "b"}, nil); err != nil {
		t.Fatalf("CreateNode failed: %v", err)
	}
	if _, err := st.CreateNode("file", map[string]any{"name": "c"}, nil); err != nil {
		t.Fatalf("CreateNode failed: %v", err)
	}

	sess, conn := loginSession(t, hub, "alice", "p")
	hub.HandleMessage(sess, []byte(`{"command":"list","data":{"type":"page"}}`))

	writes := conn.Writes()
	if len(writes) != 1 {
		t.Fatalf("Expected 1 direct reply, got %d", len(writes))
	}
	env := decodeWrite(t, writes[0])
	nodes, ok := env.Data["nodes"].([]any)
	if !ok {
		t.Fatalf("Expected nodes list in reply, got %v", env.Data)
	}
	if len(nodes) != 2 {
		t.Errorf("Expected 2 pages, got %d", len(nodes))
	}
}

func TestLogoutRequiresAuthentication(t *testing.T) {
	hub, _ := testHub(t)

	conn := newMockConn()
	sess := hub.Connect(conn)

	hub.HandleMessage(sess, []byte(`{"command":"logout"}`))

	if len(conn.Writes()) != 0 {
		t.Error("Unauthenticated logout must produce no reply")
	}
	if hub.registry.Len() != 1 {
		t.Error("Unauthenticated logout must not close the connection")
	}
}

func TestLogoutClearsStoredKey(t *testing.T) {
	hub, st := testHub(t)
	if _, err := st.CreatePrincipal("alice", "p"); err != nil {
		t.Fatalf("CreatePrincipal failed: %v", err)
	}

	sess, conn := loginSession(t, hub, "alice", "p")
	token := sess.Token()

	hub.HandleMessage(sess, []byte(`{"command":"logout"}`))

	principals, err := st.PrincipalsBySessionKey(token)
	if err != nil {
		t.Fatalf("PrincipalsBySessionKey failed: %v", err)
	}
	if len(principals) != 0 {
		t.Error("Logout must clear the stored session key")
	}

	writes := conn.Writes()
	if len(writes) != 1 {
		t.Fatalf("Expected 1 logout reply, got %d", len(writes))
	}
	reply := decodeWrite(t, writes[0])
	if reply.Command != "logout" || reply.Token != "" {
		t.Error("Logout reply must be token-free")
	}
}
