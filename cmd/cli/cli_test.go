package cli

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tacticaldesk/internal/config"
	"tacticaldesk/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const seedYAML = `
automations:
  - name: Notify on resolve
    trigger_filters:
      match: all
      conditions:
        - {type: Ticket Status Changed To, operator: equals, value: Resolved}
    ticket_actions:
      - {action: send-ntfy-notification, value: "Ticket {{ ticket.id }} resolved"}
  - name: Webhook responder
    trigger: HTTP POST Webhook Received
    ticket_actions:
      - {action: Send ntfy notification, value: "Webhook summary: {{ webhook.summary }}"}
  - name: Nightly digest
    kind: scheduled
    cadence: "0 2 * * *"
`

func testConfig() *config.Config {
	cfg := config.GetDefaultConfig()
	cfg.Database.Driver = "sqlite"
	cfg.Database.Path = ":memory:"
	cfg.Database.LogLevel = "silent"
	return cfg
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := openDatabase(testConfig())
	require.NoError(t, err)
	require.NoError(t, migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func TestSeedAutomations(t *testing.T) {
	db := openTestDB(t)
	svc := services.NewAutomationService(db, quietLogger())
	ctx := context.Background()

	seed, err := decodeSeed(strings.NewReader(seedYAML))
	require.NoError(t, err)
	require.Len(t, seed.Automations, 3)

	result, err := seedAutomations(ctx, svc, seed, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"Notify on resolve", "Webhook responder", "Nightly digest"}, result.Created)

	automations, err := svc.ListAutomations(ctx, "event")
	require.NoError(t, err)
	require.Len(t, automations, 2)
	for _, a := range automations {
		if a.Name == "Webhook responder" {
			assert.Equal(t, `[{"action":"send-ntfy-notification","value":"Webhook summary: {{ webhook.summary }}"}]`, a.TicketActions)
		}
	}

	// 再次导入时同名规则跳过
	result, err = seedAutomations(ctx, svc, seed, quietLogger())
	require.NoError(t, err)
	assert.Empty(t, result.Created)
	assert.Len(t, result.Skipped, 3)
}

func TestSeedAutomations_InvalidEntry(t *testing.T) {
	db := openTestDB(t)
	svc := services.NewAutomationService(db, quietLogger())

	seed, err := decodeSeed(strings.NewReader(`
automations:
  - name: broken
    trigger: Ticket Exploded
`))
	require.NoError(t, err)
	_, err = seedAutomations(context.Background(), svc, seed, quietLogger())
	assert.ErrorIs(t, err, services.ErrInvalidAutomation)
	assert.Contains(t, err.Error(), "automation #1 (broken)")
}

func TestLoadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o600))
	seed, err := loadSeedFile(path)
	require.NoError(t, err)
	assert.Len(t, seed.Automations, 3)

	_, err = loadSeedFile(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)

	empty, err := decodeSeed(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, empty.Automations)
}

func TestAppRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := testConfig()
	a := newApp(cfg, openTestDB(t), quietLogger())
	router := a.router()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodPost, "/api/v1/tickets", bytes.NewBufferString(`{"subject":"VPN down"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "req-1")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "req-1", w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, cfg.Monitoring.MetricsPath, nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `tacticaldesk_automation_dispatches_total{event="Ticket Created"} 1`)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodOptions, "/api/v1/tickets", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)
	assert.Contains(t, out.String(), "Version: dev")
}
