package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"presence/internal/attendance"
	"presence/internal/audit"
	"presence/internal/auth"
	"presence/internal/config"
	"presence/internal/httpmiddleware"
	"presence/internal/queue"
	"presence/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.EnsureSchema(context.Background()); err != nil {
		return err
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "presence:events")
	}

	repo := attendance.NewRepository(db.Client)
	sink := audit.NewQueueSink(q)
	rotator := attendance.NewRotator(repo, sink, cfg.CodeRotateEvery, cfg.QRRotateEvery)
	defer rotator.StopAll()
	sessions := attendance.NewSessions(repo, sink, rotator, cfg.GracePeriod)
	validator := attendance.NewValidator(repo, queueReporter{q: q}, sink, cfg.CodeTTL, cfg.QRTTL, cfg.GracePeriod)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	// Dev parity with the external identity provider: issues tokens for a
	// given subject and role.
	r.POST("/v1/auth/register", func(c *gin.Context) {
		var req struct {
			Subject string `json:"subject" binding:"required"`
			Role    string `json:"role" binding:"required,oneof=student teacher"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		tokens, err := auth.Issue(req.Subject, req.Role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	authed := r.Group("/v1", auth.RequireAuth(cfg.JWTSigningKey, cfg.JWTIssuer))
	teachers := authed.Group("", auth.RequireRole(auth.RoleTeacher))

	teachers.POST("/lectures", func(c *gin.Context) {
		var req struct {
			Course   string    `json:"course" binding:"required"`
			Title    string    `json:"title"`
			Location string    `json:"location"`
			StartsAt time.Time `json:"starts_at" binding:"required"`
			EndsAt   time.Time `json:"ends_at" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		claims, _ := auth.FromContext(c)
		lec, err := repo.CreateLecture(c.Request.Context(), attendance.Lecture{
			Course:    req.Course,
			Title:     req.Title,
			TeacherID: claims.Subject,
			Location:  req.Location,
			StartsAt:  req.StartsAt,
			EndsAt:    req.EndsAt,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "lecture create failed"})
			return
		}
		c.JSON(http.StatusCreated, lec)
	})

	authed.GET("/lectures/:id", func(c *gin.Context) {
		lec, err := repo.GetLecture(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
			return
		}
		if lec == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "lecture not found", "kind": attendance.KindLectureNotFound})
			return
		}
		c.JSON(http.StatusOK, lec)
	})

	teachers.POST("/lectures/:id/session/start", func(c *gin.Context) {
		var req struct {
			WindowMinutes int `json:"window_minutes"`
		}
		// Empty body means "use the deployment default window".
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.WindowMinutes == 0 {
			req.WindowMinutes = cfg.DefaultWindowMinutes
		}
		claims, _ := auth.FromContext(c)
		sess, err := sessions.Start(c.Request.Context(), claims.Subject, c.Param("id"), req.WindowMinutes)
		if err != nil {
			writeRejection(c, err)
			return
		}
		c.JSON(http.StatusCreated, sess)
	})

	teachers.POST("/lectures/:id/session/rotate-code", func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		sess, err := sessions.RotateCode(c.Request.Context(), claims.Subject, c.Param("id"))
		if err != nil {
			writeRejection(c, err)
			return
		}
		c.JSON(http.StatusOK, sess)
	})

	teachers.POST("/lectures/:id/session/rotate-qr", func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		sess, err := sessions.RotateQR(c.Request.Context(), claims.Subject, c.Param("id"))
		if err != nil {
			writeRejection(c, err)
			return
		}
		c.JSON(http.StatusOK, sess)
	})

	teachers.POST("/lectures/:id/session/end", func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		if err := sessions.End(c.Request.Context(), claims.Subject, c.Param("id")); err != nil {
			writeRejection(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ended": true})
	})

	authed.GET("/lectures/:id/session", func(c *gin.Context) {
		sess, err := sessions.GetActive(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeRejection(c, err)
			return
		}
		claims, _ := auth.FromContext(c)
		if claims.Role == auth.RoleTeacher {
			c.JSON(http.StatusOK, sess)
			return
		}
		// Students poll for window state, not for the credentials.
		c.JSON(http.StatusOK, gin.H{
			"lecture_id":     sess.LectureID,
			"started_at":     sess.StartedAt,
			"window_minutes": sess.WindowMinutes,
			"active":         sess.Active,
		})
	})

	claimLimiter := httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	students := authed.Group("", auth.RequireRole(auth.RoleStudent), claimLimiter.GinMiddleware())

	students.POST("/claims", func(c *gin.Context) {
		var req struct {
			LectureID  string `json:"lecture_id" binding:"required"`
			Method     string `json:"method" binding:"required,oneof=code qr"`
			Credential string `json:"credential" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		claims, _ := auth.FromContext(c)
		rec, err := validator.Submit(c.Request.Context(), attendance.Claim{
			LectureID:   req.LectureID,
			StudentID:   claims.Subject,
			Method:      attendance.Method(req.Method),
			Credential:  req.Credential,
			SubmittedAt: time.Now().UTC(),
			IPAddress:   c.ClientIP(),
		})
		if err != nil {
			writeRejection(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"status": rec.Status, "marked_at": rec.MarkedAt, "record_id": rec.ID})
	})

	teachers.POST("/lectures/:id/attendance/manual", func(c *gin.Context) {
		var req struct {
			StudentID string `json:"student_id" binding:"required"`
			Status    string `json:"status" binding:"omitempty,oneof=present late absent excused"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		claims, _ := auth.FromContext(c)
		rec, err := validator.MarkManual(c.Request.Context(), claims.Subject, c.Param("id"), req.StudentID, attendance.RecordStatus(req.Status))
		if err != nil {
			writeRejection(c, err)
			return
		}
		c.JSON(http.StatusCreated, rec)
	})

	teachers.PATCH("/attendance/:id", func(c *gin.Context) {
		var req struct {
			Status string `json:"status" binding:"required,oneof=present late absent excused"`
			Reason string `json:"reason" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		claims, _ := auth.FromContext(c)
		rec, err := validator.Correct(c.Request.Context(), claims.Subject, c.Param("id"), attendance.RecordStatus(req.Status), req.Reason)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
				return
			}
			writeRejection(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	})

	teachers.GET("/lectures/:id/attendance", func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		lec, err := repo.GetLecture(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
			return
		}
		if lec == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "lecture not found", "kind": attendance.KindLectureNotFound})
			return
		}
		if lec.TeacherID != claims.Subject {
			c.JSON(http.StatusForbidden, gin.H{"error": "not your lecture", "kind": attendance.KindUnauthorized})
			return
		}
		records, err := repo.ListRecords(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced shutdown: %v", err)
	}

	log.Println("server exited")
	return nil
}

// queueReporter forwards rejection events to the anomaly worker.
type queueReporter struct {
	q queue.Queue
}

func (r queueReporter) ReportRejection(ctx context.Context, evt attendance.RejectionEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return r.q.Publish(ctx, queue.Message{Type: queue.TypeRejection, Body: body})
}

// writeRejection maps a typed rejection to its HTTP shape; anything else
// is an internal fault and stays generic.
func writeRejection(c *gin.Context, err error) {
	r, ok := attendance.AsRejection(err)
	if !ok {
		log.Printf("internal error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	status := http.StatusUnprocessableEntity
	switch r.Kind {
	case attendance.KindLectureNotFound, attendance.KindNoActiveSession:
		status = http.StatusNotFound
	case attendance.KindAlreadyActive, attendance.KindAlreadyMarked:
		status = http.StatusConflict
	case attendance.KindUnauthorized:
		status = http.StatusForbidden
	case attendance.KindInvalidWindow:
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": r.Message, "kind": r.Kind})
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
