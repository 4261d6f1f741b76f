package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/sadlab/sadserver/pkg/models"
)

// SandboxService is the provisioner surface the handlers need.
type SandboxService interface {
	Start(ctx context.Context, scenarioID string) (inst *models.Instance, setupInProgress bool, err error)
	Stop(ctx context.Context, instanceID string) error
	Get(instanceID string) (models.Instance, error)
}

// WebUILauncher starts the analysis web UI inside a running instance.
type WebUILauncher interface {
	Launch(ctx context.Context, instanceID, filePath, reqHost string) (*models.WebUIResponse, error)
}

// Handler holds dependencies for the HTTP handlers
type Handler struct {
	sandbox SandboxService
	webui   WebUILauncher
}

// NewHandler creates a new HTTP handler
func NewHandler(sandbox SandboxService, webui WebUILauncher) *Handler {
	return &Handler{sandbox: sandbox, webui: webui}
}

// StartSad handles POST /sad/start-sad
func (h *Handler) StartSad(w http.ResponseWriter, r *http.Request) {
	var req models.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "不正なリクエストです", Detail: err.Error()})
		return
	}

	inst, setupInProgress, err := h.sandbox.Start(r.Context(), req.ScenarioID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrUnknownScenario):
			writeJSON(w, http.StatusBadRequest, models.ErrorResponse{
				Error:      "未知のシナリオID",
				ScenarioID: req.ScenarioID,
			})
		case errors.Is(err, models.ErrCapacityExceeded):
			writeJSON(w, http.StatusServiceUnavailable, models.ErrorResponse{
				Error:      "同時起動数の上限に達しました",
				ScenarioID: req.ScenarioID,
			})
		default:
			log.Printf("❌ Start for scenario %s failed: %v", req.ScenarioID, err)
			writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{
				Error:      "コンテナ起動失敗",
				Detail:     err.Error(),
				ScenarioID: req.ScenarioID,
			})
		}
		return
	}

	msg := "起動しました"
	if setupInProgress {
		msg = "起動しました（セットアップ実行中）"
	}
	writeJSON(w, http.StatusCreated, models.StartResponse{
		InstanceID:      inst.ID,
		WSPath:          inst.WSPath,
		ScenarioID:      inst.ScenarioID,
		WebUIPort:       inst.WebUIPort,
		SetupInProgress: setupInProgress,
		Message:         msg,
	})
}

// StopSad handles POST /sad/stop-sad
func (h *Handler) StopSad(w http.ResponseWriter, r *http.Request) {
	var req models.StopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "不正なリクエストです", Detail: err.Error()})
		return
	}

	// Format check before any lookup or container access. The payload
	// echoes the received value for debuggability.
	if !models.ValidInstanceID(req.InstanceID) {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{
			Error:      "不正なインスタンスID",
			InstanceID: req.InstanceID,
		})
		return
	}

	if err := h.sandbox.Stop(r.Context(), req.InstanceID); err != nil {
		log.Printf("❌ Stop for %s failed: %v", req.InstanceID, err)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{
			Error:      "停止に失敗しました",
			Detail:     err.Error(),
			InstanceID: req.InstanceID,
		})
		return
	}

	// Already-stopped is also success: stop is idempotent.
	writeJSON(w, http.StatusOK, models.StopResponse{
		Message:    "停止しました",
		InstanceID: req.InstanceID,
	})
}

// StartWebUI handles POST /sad/start-rizin-webui
func (h *Handler) StartWebUI(w http.ResponseWriter, r *http.Request) {
	var req models.WebUIRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "不正なリクエストです", Detail: err.Error()})
		return
	}

	if !models.ValidInstanceID(req.InstanceID) {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{
			Error:      "不正なインスタンスID",
			InstanceID: req.InstanceID,
		})
		return
	}

	resp, err := h.webui.Launch(r.Context(), req.InstanceID, req.FilePath, r.Host)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInstanceNotFound):
			writeJSON(w, http.StatusNotFound, models.ErrorResponse{
				Error:      "インスタンスが見つかりません",
				InstanceID: req.InstanceID,
			})
		case errors.Is(err, models.ErrTargetNotReady):
			writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{
				Error:      "解析対象ファイルが見つかりません（セットアップ完了後に再試行してください）",
				Detail:     err.Error(),
				InstanceID: req.InstanceID,
			})
		default:
			log.Printf("❌ Web UI launch for %s failed: %v", req.InstanceID, err)
			writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{
				Error:      "WebUI起動失敗",
				Detail:     err.Error(),
				InstanceID: req.InstanceID,
			})
		}
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetInstance handles GET /sad/instances/{id}: instance state plus the
// setup status of a background setup still in flight.
func (h *Handler) GetInstance(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if !models.ValidInstanceID(id) {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{
			Error:      "不正なインスタンスID",
			InstanceID: id,
		})
		return
	}

	inst, err := h.sandbox.Get(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{
			Error:      "インスタンスが見つかりません",
			InstanceID: id,
		})
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
