// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bureau-foundation/matrix-migrate/lib/ref"
)

func newTestSession(t *testing.T, handler http.HandlerFunc) *Session {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{HomeserverURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client.Session("syt_test_token")
}

func TestNewClient(t *testing.T) {
	t.Run("empty URL", func(t *testing.T) {
		if _, err := NewClient(ClientConfig{}); err == nil {
			t.Fatal("expected error for empty URL")
		}
	})

	t.Run("invalid URL", func(t *testing.T) {
		if _, err := NewClient(ClientConfig{HomeserverURL: "://invalid"}); err == nil {
			t.Fatal("expected error for invalid URL")
		}
	})
}

func TestWhoAmI(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		session := newTestSession(t, func(writer http.ResponseWriter, request *http.Request) {
			if request.URL.Path != "/_matrix/client/v3/account/whoami" {
				t.Errorf("unexpected path: %s", request.URL.Path)
			}
			if got := request.Header.Get("Authorization"); got != "Bearer syt_test_token" {
				t.Errorf("unexpected auth header: %s", got)
			}
			json.NewEncoder(writer).Encode(WhoAmIResponse{UserID: ref.MustParseUserID("@bot:x.org")})
		})

		userID, err := session.WhoAmI(context.Background())
		if err != nil {
			t.Fatalf("WhoAmI failed: %v", err)
		}
		if userID.String() != "@bot:x.org" {
			t.Errorf("unexpected user ID: %s", userID)
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		session := newTestSession(t, func(writer http.ResponseWriter, _ *http.Request) {
			writer.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(writer).Encode(MatrixError{Code: ErrCodeUnknownToken, Message: "Invalid access token"})
		})

		if _, err := session.WhoAmI(context.Background()); !IsMatrixError(err, ErrCodeUnknownToken) {
			t.Errorf("expected M_UNKNOWN_TOKEN, got: %v", err)
		}
	})
}

func TestJoinRoom(t *testing.T) {
	t.Run("by ID with via hints", func(t *testing.T) {
		session := newTestSession(t, func(writer http.ResponseWriter, request *http.Request) {
			if request.URL.Path != "/_matrix/client/v3/rooms/!a:x.org/join" {
				t.Errorf("unexpected path: %s", request.URL.Path)
			}
			via := request.URL.Query()["server_name"]
			if len(via) != 2 || via[0] != "old.x.org" || via[1] != "other.org" {
				t.Errorf("unexpected via servers: %v", via)
			}
			json.NewEncoder(writer).Encode(JoinResponse{RoomID: ref.MustParseRoomID("!a:x.org")})
		})

		roomID, err := session.JoinRoom(context.Background(), "!a:x.org", []string{"old.x.org", "other.org"})
		if err != nil {
			t.Fatalf("JoinRoom failed: %v", err)
		}
		if roomID.String() != "!a:x.org" {
			t.Errorf("unexpected room ID: %s", roomID)
		}
	})

	t.Run("by alias", func(t *testing.T) {
		session := newTestSession(t, func(writer http.ResponseWriter, request *http.Request) {
			if request.URL.Path != "/_matrix/client/v3/join/#town:x.org" {
				t.Errorf("unexpected path: %s", request.URL.Path)
			}
			json.NewEncoder(writer).Encode(JoinResponse{RoomID: ref.MustParseRoomID("!a:x.org")})
		})

		roomID, err := session.JoinRoom(context.Background(), "#town:x.org", nil)
		if err != nil {
			t.Fatalf("JoinRoom failed: %v", err)
		}
		if roomID.String() != "!a:x.org" {
			t.Errorf("unexpected room ID: %s", roomID)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		session := newTestSession(t, func(http.ResponseWriter, *http.Request) {})
		if _, err := session.JoinRoom(context.Background(), "", nil); err == nil {
			t.Fatal("expected error for empty room")
		}
	})
}

func TestPutRoomAlias(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		session := newTestSession(t, func(writer http.ResponseWriter, request *http.Request) {
			if request.Method != http.MethodPut {
				t.Errorf("unexpected method: %s", request.Method)
			}
			if request.URL.Path != "/_matrix/client/v3/directory/room/#town:x.org" {
				t.Errorf("unexpected path: %s", request.URL.Path)
			}
			var body map[string]string
			json.NewDecoder(request.Body).Decode(&body)
			if body["room_id"] != "!a:x.org" {
				t.Errorf("unexpected body: %v", body)
			}
			writer.Write([]byte("{}"))
		})

		err := session.PutRoomAlias(context.Background(),
			ref.MustParseRoomAlias("#town:x.org"), ref.MustParseRoomID("!a:x.org"))
		if err != nil {
			t.Fatalf("PutRoomAlias failed: %v", err)
		}
	})

	t.Run("alias in use", func(t *testing.T) {
		session := newTestSession(t, func(writer http.ResponseWriter, _ *http.Request) {
			writer.WriteHeader(http.StatusConflict)
			json.NewEncoder(writer).Encode(MatrixError{Code: ErrCodeRoomInUse, Message: "Room alias already taken"})
		})

		err := session.PutRoomAlias(context.Background(),
			ref.MustParseRoomAlias("#town:x.org"), ref.MustParseRoomID("!a:x.org"))
		if err == nil {
			t.Fatal("expected error")
		}
		if !IsAliasConflict(err) {
			t.Errorf("expected alias conflict, got: %v", err)
		}
	})
}

func TestListUsers(t *testing.T) {
	session := newTestSession(t, func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/_synapse/admin/v2/users" {
			t.Errorf("unexpected path: %s", request.URL.Path)
		}
		if request.URL.Query().Get("from") != "100" || request.URL.Query().Get("limit") != "50" {
			t.Errorf("unexpected query: %s", request.URL.RawQuery)
		}
		json.NewEncoder(writer).Encode(map[string]any{
			"users":      []AdminUser{{Name: "@alice:x.org", IsAdmin: true}},
			"next_token": "150",
			"total":      151,
		})
	})

	page, err := session.ListUsers(context.Background(), 100, 50)
	if err != nil {
		t.Fatalf("ListUsers failed: %v", err)
	}
	if len(page.Users) != 1 || page.Users[0].Name != "@alice:x.org" {
		t.Errorf("unexpected users: %+v", page.Users)
	}
	if page.NextToken != "150" {
		t.Errorf("unexpected next token: %v", page.NextToken)
	}
}

func TestListRooms(t *testing.T) {
	session := newTestSession(t, func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/_synapse/admin/v1/rooms" {
			t.Errorf("unexpected path: %s", request.URL.Path)
		}
		if request.URL.Query().Get("order_by") != "name" {
			t.Errorf("expected order_by=name, got: %s", request.URL.RawQuery)
		}
		federatable := false
		json.NewEncoder(writer).Encode(RoomsPage{
			Rooms: []AdminRoom{{RoomID: "!b:x.org", Federatable: &federatable}},
		})
	})

	page, err := session.ListRooms(context.Background(), 0, 500)
	if err != nil {
		t.Fatalf("ListRooms failed: %v", err)
	}
	if len(page.Rooms) != 1 {
		t.Fatalf("unexpected rooms: %+v", page.Rooms)
	}
	if page.Rooms[0].Federatable == nil || *page.Rooms[0].Federatable {
		t.Error("federatable should be explicitly false")
	}
	if page.NextBatch != nil {
		t.Errorf("next batch should be absent, got: %v", page.NextBatch)
	}
}

func TestIsAliasConflict(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&MatrixError{Code: ErrCodeRoomInUse, Message: "taken"}, true},
		{&MatrixError{Code: ErrCodeUnknown, Message: "Alias already exists"}, true},
		{&MatrixError{Code: ErrCodeUnknown, Message: "alias already in use"}, true},
		{&MatrixError{Code: ErrCodeForbidden, Message: "no permission"}, false},
		{context.Canceled, false},
		{nil, false},
	}
	for _, c := range cases {
		if got := IsAliasConflict(c.err); got != c.want {
			t.Errorf("IsAliasConflict(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestMatrixError(t *testing.T) {
	err := &MatrixError{Code: ErrCodeForbidden, Message: "Access denied", StatusCode: 403}
	expected := "matrix: M_FORBIDDEN (403): Access denied"
	if err.Error() != expected {
		t.Errorf("unexpected error message: %s", err.Error())
	}
	if !IsMatrixError(err, ErrCodeForbidden) {
		t.Error("IsMatrixError should match M_FORBIDDEN")
	}
	if IsMatrixError(err, ErrCodeNotFound) {
		t.Error("IsMatrixError should not match M_NOT_FOUND")
	}
}
