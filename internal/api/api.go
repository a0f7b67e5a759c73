package api

import (
	"errors"
	"net/http"

	"portal-backend/internal/database"
	"portal-backend/internal/dispatch"
	"portal-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LoaderControl is the surface the API needs from a configured object loader.
type LoaderControl interface {
	TriggerLoad() string
	Loading() bool
}

type PortalService struct {
	db         *gorm.DB
	dispatcher *dispatch.Dispatcher
	loaders    map[string]LoaderControl
}

func NewPortalService(db *gorm.DB, dispatcher *dispatch.Dispatcher, loaders map[string]LoaderControl) *PortalService {
	return &PortalService{db: db, dispatcher: dispatcher, loaders: loaders}
}

func (s *PortalService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))

	r.Route("/notifications", func(r chi.Router) {
		r.Post("/", RestHandler(s.SendNotification))
	})
	r.Route("/messages", func(r chi.Router) {
		r.Post("/", RestHandler(s.SendMessage))
	})

	r.Route("/principals/{uid}", func(r chi.Router) {
		r.Get("/notifications", RestHandler(s.ListNotifications))
		r.Get("/notifications/unread-count", RestHandler(s.CountUnread))
		r.Post("/notifications/{notification_id}/read", RestHandler(s.MarkNotificationRead))
		r.Delete("/notifications/{notification_id}", RestHandler(s.DeleteNotification))
	})

	r.Route("/loaders/{loader}", func(r chi.Router) {
		r.Post("/trigger", RestHandler(s.TriggerLoad))
		r.Get("/status", RestHandler(s.LoadingStatus))
	})
}

// SendNotification fans the notification out to the requested recipients. The
// call returns as soon as the work is queued, delivery happens asynchronously
// and recipients that do not exist are silently dropped.
func (s *PortalService) SendNotification(r *http.Request) (any, error) {
	req, err := ParseRequest[api.SendNotificationRequest](r)
	if err != nil {
		return nil, err
	}
	if len(req.Uids) == 0 && req.Permission == "" {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "at least one of uids or permission is required")
	}
	if req.Title == "" {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "title is required")
	}

	if len(req.Uids) > 0 {
		s.dispatcher.SendNotificationToMany(req.Uids, req.Category, req.Title, req.Message, req.ActionLink)
	}
	if req.Permission != "" {
		s.dispatcher.SendNotificationWithPermission(req.Permission, req.Category, req.Title, req.Message, req.ActionLink)
	}

	return api.SendResponse{Message: "Notification queued"}, nil
}

func (s *PortalService) SendMessage(r *http.Request) (any, error) {
	req, err := ParseRequest[api.SendMessageRequest](r)
	if err != nil {
		return nil, err
	}
	if len(req.Uids) == 0 {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "uids is required")
	}
	if req.Title == "" {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "title is required")
	}

	s.dispatcher.SendMessageToMany(req.SenderUid, req.Uids, req.Title, req.Message)

	return api.SendResponse{Message: "Message queued"}, nil
}

func (s *PortalService) ListNotifications(r *http.Request) (any, error) {
	principal, err := s.resolvePrincipal(r)
	if err != nil {
		return nil, err
	}

	query, err := ParseRequestQueryParams[api.NotificationListQuery](r)
	if err != nil {
		return nil, err
	}

	notifications, err := database.ListNotifications(r.Context(), s.db, principal.Id, query.Messages, query.UnreadOnly)
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving notifications")
	}

	result := make([]api.Notification, 0, len(notifications))
	for _, n := range notifications {
		entry := api.Notification{
			Id:           n.Id,
			IsMessage:    n.IsMessage,
			Category:     n.Category,
			Title:        n.Title,
			Message:      n.Message,
			ActionLink:   n.ActionLink,
			IsRead:       n.IsRead,
			CreationDate: n.CreationDate,
		}
		if n.SenderPrincipalId.Valid {
			sender := n.SenderPrincipalId.UUID
			entry.SenderId = &sender
		}
		result = append(result, entry)
	}
	return result, nil
}

func (s *PortalService) CountUnread(r *http.Request) (any, error) {
	principal, err := s.resolvePrincipal(r)
	if err != nil {
		return nil, err
	}

	query, err := ParseRequestQueryParams[api.NotificationListQuery](r)
	if err != nil {
		return nil, err
	}

	count, err := database.CountUnread(r.Context(), s.db, principal.Id, query.Messages)
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "error counting notifications")
	}
	return api.UnreadCountResponse{Count: count}, nil
}

func (s *PortalService) MarkNotificationRead(r *http.Request) (any, error) {
	principal, err := s.resolvePrincipal(r)
	if err != nil {
		return nil, err
	}
	notificationId, err := URLParamUUID(r, "notification_id")
	if err != nil {
		return nil, err
	}

	if err := database.MarkNotificationRead(r.Context(), s.db, principal.Id, notificationId); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "notification not found")
		}
		return nil, CodedErrorf(http.StatusInternalServerError, "error updating notification")
	}
	return nil, nil
}

func (s *PortalService) DeleteNotification(r *http.Request) (any, error) {
	principal, err := s.resolvePrincipal(r)
	if err != nil {
		return nil, err
	}
	notificationId, err := URLParamUUID(r, "notification_id")
	if err != nil {
		return nil, err
	}

	if err := database.DeleteNotification(r.Context(), s.db, principal.Id, notificationId); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "notification not found")
		}
		return nil, CodedErrorf(http.StatusInternalServerError, "error deleting notification")
	}
	return nil, nil
}

// TriggerLoad starts the named loader in the background. The response only
// acknowledges the trigger, the load itself runs asynchronously. Each call is
// keyed by a fresh transaction id so the outcome can be traced.
func (s *PortalService) TriggerLoad(r *http.Request) (any, error) {
	loader, err := s.resolveLoader(r)
	if err != nil {
		return nil, err
	}
	return api.TriggerLoadResponse{
		TransactionId: uuid.NewString(),
		Message:       loader.TriggerLoad(),
	}, nil
}

func (s *PortalService) LoadingStatus(r *http.Request) (any, error) {
	loader, err := s.resolveLoader(r)
	if err != nil {
		return nil, err
	}
	return api.LoadingStatusResponse{
		TransactionId: uuid.NewString(),
		Loading:       loader.Loading(),
	}, nil
}

func (s *PortalService) resolvePrincipal(r *http.Request) (*database.Principal, error) {
	uid := chi.URLParam(r, "uid")
	if uid == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "missing {uid} url parameter")
	}

	principal, err := database.GetPrincipalByUid(r.Context(), s.db, uid)
	if err != nil {
		if errors.Is(err, database.ErrPrincipalNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "principal %s not found", uid)
		}
		return nil, CodedErrorf(http.StatusInternalServerError, "error resolving principal")
	}
	return principal, nil
}

func (s *PortalService) resolveLoader(r *http.Request) (LoaderControl, error) {
	name := chi.URLParam(r, "loader")
	loader, ok := s.loaders[name]
	if !ok {
		return nil, CodedErrorf(http.StatusNotFound, "loader %s not found", name)
	}
	return loader, nil
}
