package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	backend "portal-backend/internal/api"
	"portal-backend/internal/database"
	"portal-backend/internal/dispatch"
	"portal-backend/internal/messaging"
	"portal-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func createDB(t *testing.T, create ...any) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, database.GetMigrator(db).Migrate())

	for _, c := range create {
		require.NoError(t, db.Create(c).Error)
	}

	return db
}

type fakeLoader struct {
	message string
	loading bool
}

func (l *fakeLoader) TriggerLoad() string { return l.message }
func (l *fakeLoader) Loading() bool       { return l.loading }

func newRouter(db *gorm.DB, queue *messaging.InMemoryQueue, loaders map[string]backend.LoaderControl) chi.Router {
	r := chi.NewRouter()
	service := backend.NewPortalService(db, dispatch.NewDispatcher(db, queue), loaders)
	service.AddRoutes(r)
	return r
}

func doRequest(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSendNotificationEndpoint(t *testing.T) {
	db := createDB(t)
	queue := messaging.NewInMemoryQueue()
	router := newRouter(db, queue, nil)

	w := doRequest(t, router, http.MethodPost, "/notifications", api.SendNotificationRequest{
		Uids:     []string{"jdoe"},
		Category: database.CategoryInformation,
		Title:    "Welcome",
		Message:  "Hello",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.SendResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Notification queued", resp.Message)

	select {
	case task := <-queue.Tasks():
		assert.Equal(t, messaging.NotificationQueue, task.Type())
	case <-time.After(time.Second):
		t.Fatal("expected a queued notification task")
	}
}

func TestSendNotificationRequiresRecipient(t *testing.T) {
	router := newRouter(createDB(t), messaging.NewInMemoryQueue(), nil)

	w := doRequest(t, router, http.MethodPost, "/notifications", api.SendNotificationRequest{Title: "No recipients"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestSendMessageEndpoint(t *testing.T) {
	db := createDB(t)
	queue := messaging.NewInMemoryQueue()
	router := newRouter(db, queue, nil)

	w := doRequest(t, router, http.MethodPost, "/messages", api.SendMessageRequest{
		SenderUid: "asmith",
		Uids:      []string{"jdoe"},
		Title:     "Hi",
		Message:   "Ping",
	})
	require.Equal(t, http.StatusOK, w.Code)

	select {
	case task := <-queue.Tasks():
		assert.Equal(t, messaging.MessageQueue, task.Type())
	case <-time.After(time.Second):
		t.Fatal("expected a queued message task")
	}
}

func TestListNotifications(t *testing.T) {
	principal := &database.Principal{Id: uuid.New(), Uid: "jdoe", FullName: "John Doe", IsActive: true}
	db := createDB(t, principal,
		&database.Notification{Id: uuid.New(), PrincipalId: principal.Id, Title: "First", CreationDate: time.Now().Add(-time.Hour)},
		&database.Notification{Id: uuid.New(), PrincipalId: principal.Id, Title: "Second", IsRead: true, CreationDate: time.Now()},
		&database.Notification{Id: uuid.New(), PrincipalId: principal.Id, Title: "A message", IsMessage: true, CreationDate: time.Now()},
	)
	router := newRouter(db, messaging.NewInMemoryQueue(), nil)

	w := doRequest(t, router, http.MethodGet, "/principals/jdoe/notifications", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var notifications []api.Notification
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &notifications))
	require.Len(t, notifications, 2)
	assert.Equal(t, "Second", notifications[0].Title)

	w = doRequest(t, router, http.MethodGet, "/principals/jdoe/notifications?unread_only=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &notifications))
	require.Len(t, notifications, 1)
	assert.Equal(t, "First", notifications[0].Title)

	w = doRequest(t, router, http.MethodGet, "/principals/jdoe/notifications?messages=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &notifications))
	require.Len(t, notifications, 1)
	assert.Equal(t, "A message", notifications[0].Title)
}

func TestListNotificationsUnknownPrincipal(t *testing.T) {
	router := newRouter(createDB(t), messaging.NewInMemoryQueue(), nil)

	w := doRequest(t, router, http.MethodGet, "/principals/ghost/notifications", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUnreadCount(t *testing.T) {
	principal := &database.Principal{Id: uuid.New(), Uid: "jdoe", FullName: "John Doe", IsActive: true}
	db := createDB(t, principal,
		&database.Notification{Id: uuid.New(), PrincipalId: principal.Id, Title: "First"},
		&database.Notification{Id: uuid.New(), PrincipalId: principal.Id, Title: "Second"},
		&database.Notification{Id: uuid.New(), PrincipalId: principal.Id, Title: "Read", IsRead: true},
	)
	router := newRouter(db, messaging.NewInMemoryQueue(), nil)

	w := doRequest(t, router, http.MethodGet, "/principals/jdoe/notifications/unread-count", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.UnreadCountResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(2), resp.Count)
}

func TestMarkNotificationRead(t *testing.T) {
	principal := &database.Principal{Id: uuid.New(), Uid: "jdoe", FullName: "John Doe", IsActive: true}
	notification := &database.Notification{Id: uuid.New(), PrincipalId: principal.Id, Title: "First"}
	db := createDB(t, principal, notification)
	router := newRouter(db, messaging.NewInMemoryQueue(), nil)

	w := doRequest(t, router, http.MethodPost, fmt.Sprintf("/principals/jdoe/notifications/%s/read", notification.Id), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var updated database.Notification
	require.NoError(t, db.First(&updated, "id = ?", notification.Id).Error)
	assert.True(t, updated.IsRead)

	w = doRequest(t, router, http.MethodPost, fmt.Sprintf("/principals/jdoe/notifications/%s/read", uuid.New()), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteNotification(t *testing.T) {
	principal := &database.Principal{Id: uuid.New(), Uid: "jdoe", FullName: "John Doe", IsActive: true}
	notification := &database.Notification{Id: uuid.New(), PrincipalId: principal.Id, Title: "First"}
	db := createDB(t, principal, notification)
	router := newRouter(db, messaging.NewInMemoryQueue(), nil)

	w := doRequest(t, router, http.MethodDelete, fmt.Sprintf("/principals/jdoe/notifications/%s", notification.Id), nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Soft deleted: gone from the listing, still in the table.
	w = doRequest(t, router, http.MethodGet, "/principals/jdoe/notifications", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var notifications []api.Notification
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &notifications))
	assert.Empty(t, notifications)

	var count int64
	require.NoError(t, db.Model(&database.Notification{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestTriggerLoadEndpoint(t *testing.T) {
	loader := &fakeLoader{message: "Object load started"}
	router := newRouter(createDB(t), messaging.NewInMemoryQueue(), map[string]backend.LoaderControl{"principals": loader})

	w := doRequest(t, router, http.MethodPost, "/loaders/principals/trigger", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.TriggerLoadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Object load started", resp.Message)
	_, err := uuid.Parse(resp.TransactionId)
	assert.NoError(t, err)

	// Every trigger gets its own transaction id.
	w = doRequest(t, router, http.MethodPost, "/loaders/principals/trigger", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var second api.TriggerLoadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	assert.NotEqual(t, resp.TransactionId, second.TransactionId)

	w = doRequest(t, router, http.MethodPost, "/loaders/unknown/trigger", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLoadingStatusEndpoint(t *testing.T) {
	loader := &fakeLoader{loading: true}
	router := newRouter(createDB(t), messaging.NewInMemoryQueue(), map[string]backend.LoaderControl{"principals": loader})

	w := doRequest(t, router, http.MethodGet, "/loaders/principals/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.LoadingStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Loading)
	_, err := uuid.Parse(resp.TransactionId)
	assert.NoError(t, err)
}
