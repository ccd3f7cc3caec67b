package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"kanban/api/internal/board"
	"kanban/api/internal/ordering"
	"kanban/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /api/health", s.handleHealth)
	api.HandleFunc("GET /api/ready", s.handleReady)

	api.HandleFunc("GET /api/teams/{id}/board", s.handleBoard)
	api.HandleFunc("POST /api/teams/{id}/lanes", s.handleAddLane)
	api.HandleFunc("PATCH /api/lanes/{id}", s.handleRenameLane)
	api.HandleFunc("DELETE /api/lanes/{id}", s.handleDeleteLane)
	api.HandleFunc("POST /api/lanes/{id}/move", s.handleMoveLane)

	api.HandleFunc("POST /api/teams/{id}/tasks", s.handleCreateTask)
	api.HandleFunc("DELETE /api/tasks/{id}", s.handleDeleteTask)
	api.HandleFunc("POST /api/tasks/{id}/move", s.handleMoveTask)
	api.HandleFunc("POST /api/tasks/{id}/assignees", s.handleAssignTask)
	api.HandleFunc("DELETE /api/tasks/{id}/assignees/{userID}", s.handleUnassignTask)
	api.HandleFunc("PUT /api/tasks/{id}/due-date", s.handleSetDueDate)
	api.HandleFunc("POST /api/tasks/{id}/dependencies", s.handleAddDependency)

	api.HandleFunc("POST /api/teams/{id}/deadlines/recompute", s.handleRecomputeDeadlines)
	api.HandleFunc("POST /api/teams/{id}/invites", s.handleSendInvite)
	api.HandleFunc("POST /api/invites/{id}/resolve", s.handleResolveInvite)

	api.HandleFunc("GET /api/users/{id}/notifications", s.handleNotifications)
	api.HandleFunc("DELETE /api/notifications/{id}", s.handleDeleteNotification)

	root := http.NewServeMux()
	root.Handle("GET /metrics", promhttp.Handler())
	root.Handle("/", s.withMiddleware(api))
	return root
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// Board

func (s *HTTPServer) handleBoard(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Board(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	lanes := make([]map[string]any, 0, len(view.Lanes))
	for _, lane := range view.Lanes {
		item := laneJSON(lane.Lane)
		tasks := make([]map[string]any, 0, len(lane.Tasks))
		for _, task := range lane.Tasks {
			tasks = append(tasks, taskJSON(task))
		}
		item["tasks"] = tasks
		lanes = append(lanes, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"team": map[string]any{
			"id":          view.Team.ID,
			"name":        view.Team.Name,
			"description": view.Team.Description,
			"memberIds":   nonNil(view.Team.MemberIDs),
		},
		"lanes": lanes,
	})
}

func (s *HTTPServer) handleAddLane(w http.ResponseWriter, r *http.Request) {
	lane, err := s.service.AddLane(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"lane": laneJSON(lane)})
}

func (s *HTTPServer) handleRenameLane(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	lane, err := s.service.RenameLane(r.Context(), r.PathValue("id"), body.Name)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lane": laneJSON(lane)})
}

func (s *HTTPServer) handleDeleteLane(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.DeleteLane(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":           true,
		"removedTasks": result.RemovedTasks,
		"reseeded":     result.Reseeded,
	})
}

type moveBody struct {
	Direction string `json:"direction"`
}

func (s *HTTPServer) handleMoveLane(w http.ResponseWriter, r *http.Request) {
	var body moveBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	lane, moved, err := s.service.MoveLane(r.Context(), r.PathValue("id"), body.Direction)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lane": laneJSON(lane), "moved": moved})
}

// Tasks

func (s *HTTPServer) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var body CreateTaskInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	task, err := s.service.CreateTask(r.Context(), r.PathValue("id"), body)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"task": taskJSON(task)})
}

func (s *HTTPServer) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteTask(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleMoveTask(w http.ResponseWriter, r *http.Request) {
	var body moveBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	task, moved, err := s.service.MoveTask(r.Context(), r.PathValue("id"), body.Direction)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": taskJSON(task), "moved": moved})
}

func (s *HTTPServer) handleAssignTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserIDs []string `json:"userIds"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.AssignTask(r.Context(), r.PathValue("id"), body.UserIDs)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task":  taskJSON(result.Task),
		"added": nonNil(result.Added),
	})
}

func (s *HTTPServer) handleUnassignTask(w http.ResponseWriter, r *http.Request) {
	removed, err := s.service.UnassignTask(r.Context(), r.PathValue("id"), r.PathValue("userID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "removed": removed})
}

func (s *HTTPServer) handleSetDueDate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DueDate time.Time `json:"dueDate"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	task, err := s.service.SetTaskDueDate(r.Context(), r.PathValue("id"), body.DueDate)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": taskJSON(task)})
}

func (s *HTTPServer) handleAddDependency(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DependsOnID string `json:"dependsOnId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.service.AddDependency(r.Context(), r.PathValue("id"), body.DependsOnID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleRecomputeDeadlines(w http.ResponseWriter, r *http.Request) {
	count, err := s.service.RecomputeDeadlines(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "recomputed": count})
}

// Invites

func (s *HTTPServer) handleSendInvite(w http.ResponseWriter, r *http.Request) {
	var body SendInviteInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	invite, err := s.service.SendInvite(r.Context(), r.PathValue("id"), body)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"invite": map[string]any{
		"id":         invite.ID,
		"teamId":     invite.TeamID,
		"senderId":   invite.SenderID,
		"message":    invite.Message,
		"inviteeIds": nonNil(invite.InviteeIDs),
		"createdAt":  invite.CreatedAt,
	}})
}

func (s *HTTPServer) handleResolveInvite(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID   string `json:"userId"`
		Accepted bool   `json:"accepted"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	res, err := s.service.ResolveInvite(r.Context(), r.PathValue("id"), body.UserID, body.Accepted)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"accepted":  res.Accepted,
		"remaining": res.Remaining,
		"reclaimed": res.Reclaimed,
	})
}

// Notifications

func (s *HTTPServer) handleNotifications(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.Notifications(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(items))
	for _, n := range items {
		out = append(out, notificationJSON(n))
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": out})
}

func (s *HTTPServer) handleDeleteNotification(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.service.DeleteNotification(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "deleted": deleted})
}

// JSON shapes

func laneJSON(lane store.Lane) map[string]any {
	return map[string]any{
		"id":       lane.ID,
		"teamId":   lane.TeamID,
		"name":     lane.Name,
		"position": lane.Position,
	}
}

func taskJSON(task store.Task) map[string]any {
	out := map[string]any{
		"id":            task.ID,
		"teamId":        task.TeamID,
		"laneId":        task.LaneID,
		"name":          task.Name,
		"description":   task.Description,
		"dueDate":       task.DueDate,
		"priority":      task.Priority,
		"assigneeIds":   nonNil(task.AssigneeIDs),
		"dependencyIds": nonNil(task.DependencyIDs),
		"createdAt":     task.CreatedAt,
	}
	if task.DeadlineMarker != nil {
		out["deadlineCheckedOn"] = task.DeadlineMarker.Format(time.DateOnly)
	}
	return out
}

func notificationJSON(n store.Notification) map[string]any {
	out := map[string]any{
		"id":        n.ID,
		"kind":      n.Kind,
		"message":   n.Message,
		"createdAt": n.CreatedAt,
	}
	if n.TaskID != "" {
		out["taskId"] = n.TaskID
	}
	if n.InviteID != "" {
		out["inviteId"] = n.InviteID
	}
	return out
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// Plumbing

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		log.WithFields(log.Fields{
			"request_id":  requestID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      writer.status,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("request")
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log.WithFields(log.Fields{
			"request_id": requestID(r.Context()),
			"code":       code,
			"error":      err,
		}).Error("request failed")
	}
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", verrs.Error(), nil
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, ordering.ErrDuplicatePosition), errors.Is(err, store.ErrPositionConflict):
		return http.StatusInternalServerError, "INTERNAL_CONSISTENCY", "Lane positions are inconsistent", nil
	case errors.Is(err, board.ErrTeamMismatch):
		return http.StatusInternalServerError, "DATA_INTEGRITY", "Task and lane belong to different teams", nil
	case errors.Is(err, board.ErrDependencyCycle):
		return http.StatusConflict, "DEPENDENCY_CYCLE", err.Error(), nil
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "CONFLICT", "Already exists", nil
	case errors.Is(err, board.ErrInvalidName),
		errors.Is(err, ordering.ErrUnknownDirection),
		errors.Is(err, ErrInvalidDueDate):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
