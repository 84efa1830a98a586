package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/veritashealth/invitegate/internal/auth"
	"github.com/veritashealth/invitegate/internal/models"
	"github.com/veritashealth/invitegate/internal/services"
	"github.com/veritashealth/invitegate/pkg/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var handlerTestDBSeq atomic.Int64

type handlerFixture struct {
	db      *gorm.DB
	router  *gin.Engine
	invites *services.InviteService
	clock   *time.Time
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:handlers_test_%d?mode=memory&cache=shared&_busy_timeout=5000", handlerTestDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Patient{}, &models.Invite{}, &models.AuthIdentity{}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	invites, err := services.NewInviteService(db,
		services.WithInviteClock(now),
		services.WithInviteBaseURL("https://app.example.com"),
	)
	require.NoError(t, err)

	directory, err := services.NewPatientDirectory(db)
	require.NoError(t, err)

	credentials, err := auth.NewCredentialService(auth.CredentialConfig{
		Secret: "handler-test-secret-handler-test",
		Issuer: "invitegate-test",
		Clock:  now,
	})
	require.NoError(t, err)

	provider, err := auth.NewLocalProvider(db, credentials,
		auth.WithMagicLinkBase("https://app.example.com"),
	)
	require.NoError(t, err)

	linker, err := services.NewIdentityLinker(provider, directory)
	require.NoError(t, err)

	otp := services.NewOTPService(services.WithOTPClock(now))

	activation, err := services.NewActivationService(invites, directory, otp, linker, nil,
		services.WithActivationClock(now),
	)
	require.NoError(t, err)

	router := gin.New()
	router.POST("/api/activation", NewActivationHandler(activation).Activate)
	router.POST("/api/invites", NewInviteHandler(invites).Create)

	return &handlerFixture{db: db, router: router, invites: invites, clock: &clock}
}

func (f *handlerFixture) seedPatient(t *testing.T) *models.Patient {
	t.Helper()

	phone := "+15550100"
	patient := &models.Patient{
		FullName: "Ada Osei",
		Phone:    &phone,
		Status:   models.PatientStatusPending,
	}
	require.NoError(t, f.db.Create(patient).Error)
	return patient
}

func (f *handlerFixture) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *handlerFixture) storedOtp(t *testing.T, inviteID string) string {
	t.Helper()

	var invite models.Invite
	require.NoError(t, f.db.First(&invite, "id = ?", inviteID).Error)
	require.NotNil(t, invite.OtpCode)
	return *invite.OtpCode
}

func decodeErrorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()

	var body response.ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error.Code
}
