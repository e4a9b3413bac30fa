package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/cattlecare-api/internal/auth"
	"github.com/Brownie44l1/cattlecare-api/internal/cascade"
	"github.com/Brownie44l1/cattlecare-api/internal/history"
	"github.com/Brownie44l1/cattlecare-api/internal/model"
	"github.com/Brownie44l1/cattlecare-api/internal/report"
)

const (
	dashboardLimit = 10
	adminLimit     = 50
)

// Predictor is the inference call the HTTP layer depends on.
type Predictor interface {
	Classify(ctx context.Context, raw []byte) (*cascade.Result, error)
}

// ModelStatus reports which models are loaded.
type ModelStatus interface {
	Status() model.Status
}

type Handler struct {
	predictor Predictor
	models    ModelStatus
	users     *auth.UserStore
	tokens    *auth.TokenIssuer
	history   history.Store
	reports   *report.Generator
	logger    *logrus.Logger
	maxUpload int64
	now       func() time.Time
}

func (h *Handler) Health(c *gin.Context) {
	status := h.models.Status()
	state := "healthy"
	if !status.MasterLoaded {
		state = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    state,
		"models":    status,
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) Models(c *gin.Context) {
	c.JSON(http.StatusOK, h.models.Status())
}

type registerRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Name     string `json:"name" binding:"required"`
}

func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	user, err := h.users.Register(req.Email, req.Password, req.Name)
	if errors.Is(err, auth.ErrEmailTaken) {
		abortWithError(c, http.StatusConflict, codeEmailTaken, "Email already registered")
		return
	}
	if err != nil {
		abortWithError(c, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	h.logger.WithField("email", user.Email).Info("User registered")
	c.JSON(http.StatusCreated, gin.H{"success": true, "user": user})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	user, err := h.users.Authenticate(req.Email, req.Password)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, codeUnauthorized, "Invalid email or password")
		return
	}
	token, err := h.tokens.Issue(user)
	if err != nil {
		_ = c.Error(err)
		abortWithError(c, http.StatusInternalServerError, codeInternal, "Could not create session")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "token": token, "user": user})
}

type predictResponse struct {
	Success bool `json:"success"`
	*cascade.Result
	ConfidencePercent string `json:"confidence_percent"`
	Timestamp         string `json:"timestamp"`
	Image             string `json:"image"`
}

func (h *Handler) Predict(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			abortWithError(c, http.StatusRequestEntityTooLarge, codeFileTooLarge,
				fmt.Sprintf("Upload exceeds %d bytes", h.maxUpload))
			return
		}
		abortWithError(c, http.StatusBadRequest, codeMissingFile, "No file uploaded")
		return
	}
	if header.Filename == "" {
		abortWithError(c, http.StatusBadRequest, codeMissingFile, "No file selected")
		return
	}

	file, err := header.Open()
	if err != nil {
		abortWithError(c, http.StatusBadRequest, codeMissingFile, "Failed to read upload")
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, codeMissingFile, "Failed to read upload")
		return
	}

	res, err := h.predictor.Classify(c.Request.Context(), raw)
	if err != nil {
		status, code, message := classificationError(err)
		_ = c.Error(err)
		abortWithError(c, status, code, message)
		return
	}

	user := currentUser(c)
	now := h.now()
	entry := history.Entry{
		UserEmail:  user.Email,
		UserName:   user.Name,
		Timestamp:  now,
		BodyPart:   res.BodyPart,
		Diagnosis:  res.PredictedClass,
		Confidence: res.Confidence,
		Status:     string(res.Status),
	}
	if err := h.history.Append(c.Request.Context(), entry); err != nil {
		h.logger.WithError(err).WithField("email", user.Email).Warn("Failed to log prediction")
	}

	c.JSON(http.StatusOK, predictResponse{
		Success:           true,
		Result:            res,
		ConfidencePercent: fmt.Sprintf("%.2f%%", res.Confidence*100),
		Timestamp:         now.Format(time.RFC3339),
		Image:             dataURL(raw),
	})
}

func dataURL(raw []byte) string {
	return "data:" + http.DetectContentType(raw) + ";base64," + base64.StdEncoding.EncodeToString(raw)
}

func (h *Handler) Report(c *gin.Context) {
	var res cascade.Result
	if err := c.ShouldBindJSON(&res); err != nil {
		abortWithError(c, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	if res.PredictedClass == "" || res.Status == "" {
		abortWithError(c, http.StatusBadRequest, codeBadRequest, "predicted_class and status are required")
		return
	}

	user := currentUser(c)
	now := h.now()

	var buf bytes.Buffer
	if err := h.reports.Render(&buf, &res, report.UserInfo{Name: user.Name, Email: user.Email}, now); err != nil {
		_ = c.Error(err)
		abortWithError(c, http.StatusInternalServerError, codeInternal, "Failed to generate report")
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, report.FileName(now)))
	c.Data(http.StatusOK, "application/pdf", buf.Bytes())
}

func (h *Handler) Dashboard(c *gin.Context) {
	user := currentUser(c)
	entries, err := h.history.ListByUser(c.Request.Context(), user.Email, dashboardLimit)
	if err != nil {
		_ = c.Error(err)
		abortWithError(c, http.StatusInternalServerError, codeInternal, "Failed to load predictions")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"user":        gin.H{"email": user.Email, "name": user.Name, "role": user.Role},
		"predictions": entries,
	})
}

func (h *Handler) Admin(c *gin.Context) {
	entries, err := h.history.Recent(c.Request.Context(), adminLimit)
	if err != nil {
		_ = c.Error(err)
		abortWithError(c, http.StatusInternalServerError, codeInternal, "Failed to load predictions")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"predictions": entries,
		"users":       h.users.List(),
	})
}
