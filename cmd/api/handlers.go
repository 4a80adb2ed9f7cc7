package main

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"faceattend/internal/attendance"
	"faceattend/internal/auth"
	"faceattend/internal/config"
	"faceattend/internal/errs"
	"faceattend/internal/face"
	"faceattend/internal/fraud"
	"faceattend/internal/session"
	"faceattend/internal/users"
	"faceattend/internal/vault"
)

type extractor interface {
	Extract(image []byte) (*face.Capture, error)
}

type api struct {
	cfg       config.App
	markLimit gin.HandlerFunc
	logger    *slog.Logger
	users     *users.Repository
	enroller  *users.Enroller
	sessions  *session.Manager
	recorder  *attendance.Recorder
	records   *attendance.Repository
	alerts    *fraud.Repository
	detector  *fraud.Detector
	engine    *face.Engine
	extract   extractor
	templates *vault.Store
}

func (a *api) register(r *gin.Engine) {
	r.POST("/v1/auth/login", a.login)

	// Shared kiosks call identify without a user token; the device-facing
	// rate limit is the only gate.
	r.POST("/v1/attendance/identify", a.markLimit, a.identify)

	v1 := r.Group("/v1", auth.Require(a.cfg.JWTSigningKey, a.cfg.JWTIssuer))

	v1.POST("/users", auth.RequireRole(users.RoleAdmin), a.createUser)
	v1.GET("/users/:id", a.getUser)
	v1.POST("/users/:id/face", a.enrollFace)

	v1.POST("/attendance/verify", a.markLimit, a.verify)
	v1.GET("/attendance", a.listAttendance)
	v1.GET("/attendance/today", a.todayStatus)
	v1.GET("/attendance/percentage", a.percentage)
	v1.POST("/attendance/override", auth.RequireRole(users.RoleStaff, users.RoleAdmin), a.override)

	v1.POST("/sessions", auth.RequireRole(users.RoleStaff, users.RoleAdmin), a.startSession)
	v1.POST("/sessions/:id/stop", auth.RequireRole(users.RoleStaff, users.RoleAdmin), a.stopSession)
	v1.GET("/sessions/active", a.activeSession)

	v1.GET("/alerts", auth.RequireRole(users.RoleAdmin), a.listAlerts)
	v1.POST("/alerts/:id/resolve", auth.RequireRole(users.RoleAdmin), a.resolveAlert)
}

func respondErr(c *gin.Context, err error) {
	c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
}

func (a *api) login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := a.users.GetByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if errs.KindOf(err) == errs.KindNotFound {
			// Do not reveal whether the account exists.
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		respondErr(c, err)
		return
	}
	if err := users.VerifyPassword(user.PasswordHash, req.Password); err != nil {
		respondErr(c, err)
		return
	}

	token, err := auth.Issue(user.ID, user.Role, a.cfg.JWTIssuer, a.cfg.JWTSigningKey, a.cfg.AccessTTL)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": token.Value,
		"expires_at":   token.ExpiresAt.Unix(),
		"user": gin.H{
			"id": user.ID, "name": user.Name, "email": user.Email,
			"role": user.Role, "face_enrolled": user.Enrolled(),
		},
	})
}

func (a *api) createUser(c *gin.Context) {
	var req struct {
		Name     string `json:"name" binding:"required"`
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
		Role     string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Role == "" {
		req.Role = users.RoleStudent
	}
	if !users.ValidRole(req.Role) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
		return
	}

	hash, err := users.HashPassword(req.Password)
	if err != nil {
		respondErr(c, err)
		return
	}
	u := &users.User{
		Name:         req.Name,
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: hash,
		Role:         req.Role,
		IsActive:     true,
	}
	if err := a.users.Create(c.Request.Context(), u); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": u.ID, "name": u.Name, "email": u.Email, "role": u.Role})
}

func (a *api) getUser(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	id := c.Param("id")
	if claims.Subject != id && claims.Role == users.RoleStudent {
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
		return
	}
	u, err := a.users.Get(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id": u.ID, "name": u.Name, "email": u.Email, "role": u.Role,
		"active": u.IsActive, "face_enrolled": u.Enrolled(), "face_enrolled_at": u.FaceEnrolledAt,
	})
}

func (a *api) enrollFace(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	id := c.Param("id")
	if claims.Subject != id && claims.Role == users.RoleStudent {
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
		return
	}

	image, ok := bindImage(c)
	if !ok {
		return
	}
	quality, err := a.enroller.Enroll(c.Request.Context(), id, image)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enrolled": true, "quality": quality})
}

func (a *api) verify(c *gin.Context) {
	claims, _ := auth.FromContext(c)

	var req struct {
		Image      string `json:"image" binding:"required"`
		Geo        string `json:"geo_location"`
		DeviceInfo string `json:"device_info"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	image, err := decodeImage(req.Image)
	if err != nil {
		respondErr(c, err)
		return
	}

	rec, err := a.recorder.Mark(c.Request.Context(), claims.Subject, image, req.Geo, req.DeviceInfo)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"record": rec})
}

// identify runs 1:N search over all enrolled templates, then marks attendance
// for whoever matched. Meant for shared kiosks operated by staff.
func (a *api) identify(c *gin.Context) {
	var req struct {
		Image      string `json:"image" binding:"required"`
		Geo        string `json:"geo_location"`
		DeviceInfo string `json:"device_info"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	image, err := decodeImage(req.Image)
	if err != nil {
		respondErr(c, err)
		return
	}

	capture, err := a.extract.Extract(image)
	if err != nil {
		respondErr(c, err)
		return
	}

	enrolled, err := a.users.ListEnrolled(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	candidates := make([]face.Candidate, 0, len(enrolled))
	for _, e := range enrolled {
		desc, derr := a.templates.Decrypt(e.Blob)
		if derr != nil {
			a.logger.Error("template decrypt failed", "user_id", e.UserID, "err", derr)
			continue
		}
		candidates = append(candidates, face.Candidate{UserID: e.UserID, Descriptor: desc})
	}

	match, err := a.engine.Identify(capture.Descriptor, candidates)
	if err != nil {
		respondErr(c, err)
		return
	}

	rec, err := a.recorder.Mark(c.Request.Context(), match.UserID, image, req.Geo, req.DeviceInfo)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"user_id":    match.UserID,
		"confidence": match.Confidence,
		"record":     rec,
	})
}

func (a *api) listAttendance(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	userID := claims.Subject
	if v := c.Query("user_id"); v != "" && claims.Role != users.RoleStudent {
		userID = v
	}

	now := time.Now().UTC()
	from := c.DefaultQuery("from", now.AddDate(0, -1, 0).Format(attendance.DateLayout))
	to := c.DefaultQuery("to", now.Format(attendance.DateLayout))
	limit := 100
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}

	recs, err := a.records.ListByUser(c.Request.Context(), userID, from, to, limit)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": recs})
}

func (a *api) todayStatus(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	rec, status, err := a.recorder.TodayStatus(c.Request.Context(), claims.Subject)
	if err != nil {
		respondErr(c, err)
		return
	}
	body := gin.H{"status": status}
	if rec != nil {
		body["record"] = rec
	}
	c.JSON(http.StatusOK, body)
}

func (a *api) percentage(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	userID := claims.Subject
	if v := c.Query("user_id"); v != "" && claims.Role != users.RoleStudent {
		userID = v
	}

	now := time.Now().UTC()
	from := c.DefaultQuery("from", now.AddDate(0, -1, 0).Format(attendance.DateLayout))
	to := c.DefaultQuery("to", now.Format(attendance.DateLayout))

	pct, err := a.recorder.Percentage(c.Request.Context(), userID, from, to)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "from": from, "to": to, "percentage": pct})
}

func (a *api) override(c *gin.Context) {
	claims, _ := auth.FromContext(c)

	var req struct {
		UserID    string  `json:"user_id" binding:"required"`
		Status    string  `json:"status" binding:"required"`
		Date      string  `json:"date"`
		SessionID *string `json:"session_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var date *time.Time
	if req.Date != "" {
		parsed, err := time.Parse(attendance.DateLayout, req.Date)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		date = &parsed
	}

	rec, err := a.recorder.Override(c.Request.Context(), claims.Subject, req.UserID, req.Status, date, req.SessionID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": rec})
}

func (a *api) startSession(c *gin.Context) {
	claims, _ := auth.FromContext(c)

	var req struct {
		ClassName            string `json:"class_name" binding:"required"`
		Subject              string `json:"subject"`
		LateThresholdMinutes int    `json:"late_threshold_minutes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := a.sessions.Start(c.Request.Context(), claims.Subject, req.ClassName, req.Subject,
		time.Duration(req.LateThresholdMinutes)*time.Minute)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": sess})
}

func (a *api) stopSession(c *gin.Context) {
	claims, _ := auth.FromContext(c)

	summary, err := a.sessions.Stop(c.Request.Context(), c.Param("id"), claims.Subject)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

func (a *api) activeSession(c *gin.Context) {
	sess, err := a.sessions.Active(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	if sess == nil {
		c.JSON(http.StatusOK, gin.H{"active": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": true, "session": sess})
}

func (a *api) listAlerts(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	// live=true serves the in-memory ring for dashboard polling instead of
	// querying the database.
	if c.Query("live") == "true" {
		c.JSON(http.StatusOK, gin.H{"alerts": a.detector.Recent(limit)})
		return
	}

	includeResolved := c.Query("include_resolved") == "true"

	alerts, err := a.alerts.List(c.Request.Context(), limit, includeResolved)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

func (a *api) resolveAlert(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	if err := a.alerts.Resolve(c.Request.Context(), c.Param("id"), claims.Subject, time.Now().UTC()); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolved": true})
}

// bindImage accepts {"image": "<base64>"} bodies.
func bindImage(c *gin.Context) ([]byte, bool) {
	var req struct {
		Image string `json:"image" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	image, err := decodeImage(req.Image)
	if err != nil {
		respondErr(c, err)
		return nil, false
	}
	return image, true
}

// decodeImage handles both raw base64 and data URLs.
func decodeImage(s string) ([]byte, error) {
	if i := strings.Index(s, ","); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errs.E(errs.KindValidation, "image must be base64 encoded")
	}
	return data, nil
}
