package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/apperr"
	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	glog "gorm.io/gorm/logger"
)

// activeIndexes back the per-agent lock: a second active row for the same
// agent fails at the storage layer.
var activeIndexes = []string{
	"CREATE UNIQUE INDEX IF NOT EXISTS ux_status_active_agent ON agent_status_records (agent_id) WHERE is_active",
	"CREATE UNIQUE INDEX IF NOT EXISTS ux_pause_active_agent ON pause_records (agent_id) WHERE is_active",
	"CREATE UNIQUE INDEX IF NOT EXISTS ux_session_active_agent ON work_session_records (agent_id) WHERE is_active",
}

// GormStore implements Store on top of gorm (postgres in production, sqlite for dev and tests)
type GormStore struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// Open connects to the database for the given driver and runs migrations
func Open(driver, dsn string, logger zerolog.Logger) (*GormStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         silentLogger(),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	if driver == "sqlite" {
		// sqlite allows one writer; a single connection keeps transactions serialized
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	store := NewGormStore(db, logger)
	if err := store.Migrate(); err != nil {
		return nil, err
	}

	logger.Info().Str("driver", driver).Msg("durable store initialized")
	return store, nil
}

// NewGormStore wraps an existing connection. Call Migrate before use on a fresh database.
func NewGormStore(db *gorm.DB, logger zerolog.Logger) *GormStore {
	return &GormStore{db: db, logger: logger.With().Str("component", "store").Logger()}
}

func silentLogger() glog.Interface {
	return glog.New(
		log.New(io.Discard, "", log.LstdFlags),
		glog.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  glog.Silent,
			IgnoreRecordNotFoundError: true,
		},
	)
}

// Migrate creates the tables and the partial unique indexes on active rows
func (s *GormStore) Migrate() error {
	if err := s.db.AutoMigrate(
		&types.Agent{},
		&types.AgentStatusRecord{},
		&types.PauseRecord{},
		&types.WorkSessionRecord{},
	); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	for _, stmt := range activeIndexes {
		if err := s.db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// DB exposes the underlying connection
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

func (s *GormStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx, logger: s.logger})
	})
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return storeErr("transaction", err)
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return storeErr("ping", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

// storeErr maps driver errors onto the error taxonomy
func storeErr(op string, err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return apperr.Wrap(apperr.KindConflict, op, "", err)
	}
	return apperr.Wrap(apperr.KindStoreUnavailable, op, "", err)
}

func (s *GormStore) GetAgent(ctx context.Context, agentID string) (*types.Agent, error) {
	var agent types.Agent
	err := s.db.WithContext(ctx).Where("agent_id = ?", agentID).Take(&agent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("getAgent", err)
	}
	return &agent, nil
}

func (s *GormStore) UpsertAgents(ctx context.Context, agents []types.Agent) error {
	if len(agents) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "agent_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "campaign_id", "team", "updated_at"}),
	}).Create(&agents).Error
	if err != nil {
		return storeErr("upsertAgents", err)
	}
	return nil
}

func (s *GormStore) ListAgents(ctx context.Context) ([]types.Agent, error) {
	var agents []types.Agent
	if err := s.db.WithContext(ctx).Order("agent_id").Find(&agents).Error; err != nil {
		return nil, storeErr("listAgents", err)
	}
	return agents, nil
}

func (s *GormStore) ActiveStatus(ctx context.Context, agentID string) (*types.AgentStatusRecord, error) {
	var rec types.AgentStatusRecord
	err := s.db.WithContext(ctx).Where("agent_id = ? AND is_active = ?", agentID, true).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("activeStatus", err)
	}
	return &rec, nil
}

func (s *GormStore) CreateStatus(ctx context.Context, rec *types.AgentStatusRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return storeErr("createStatus", err)
	}
	return nil
}

// CloseStatus persists a closed record. It is conditional on the row still
// being active so a lost update surfaces as a conflict.
func (s *GormStore) CloseStatus(ctx context.Context, rec *types.AgentStatusRecord) error {
	res := s.db.WithContext(ctx).Model(&types.AgentStatusRecord{}).
		Where("id = ? AND is_active = ?", rec.ID, true).
		Updates(map[string]interface{}{
			"end_time":         rec.EndTime,
			"duration_seconds": rec.DurationSeconds,
			"is_active":        false,
		})
	if res.Error != nil {
		return storeErr("closeStatus", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.New(apperr.KindConflict, "closeStatus", rec.AgentID, "status record is no longer active")
	}
	return nil
}

func (s *GormStore) ListActiveStatuses(ctx context.Context) ([]types.AgentStatusRecord, error) {
	var recs []types.AgentStatusRecord
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Find(&recs).Error; err != nil {
		return nil, storeErr("listActiveStatuses", err)
	}
	return recs, nil
}

func (s *GormStore) ListStatusHistory(ctx context.Context, agentID string, since time.Time, limit int) ([]types.AgentStatusRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var recs []types.AgentStatusRecord
	err := s.db.WithContext(ctx).
		Where("agent_id = ? AND start_time >= ?", agentID, since).
		Order("start_time").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, storeErr("listStatusHistory", err)
	}
	return recs, nil
}

// SumStatusDurations sums, per status, the seconds of every record overlapping [since, now].
// The active record counts up to now.
func (s *GormStore) SumStatusDurations(ctx context.Context, agentID string, since, now time.Time) (map[types.AgentStatus]int64, error) {
	var recs []types.AgentStatusRecord
	err := s.db.WithContext(ctx).
		Where("agent_id = ? AND start_time < ? AND (end_time IS NULL OR end_time > ?)", agentID, now, since).
		Find(&recs).Error
	if err != nil {
		return nil, storeErr("sumStatusDurations", err)
	}

	sums := make(map[types.AgentStatus]int64)
	for _, rec := range recs {
		start := rec.StartTime
		if start.Before(since) {
			start = since
		}
		end := now
		if rec.EndTime != nil && rec.EndTime.Before(now) {
			end = *rec.EndTime
		}
		if end.After(start) {
			sums[rec.Status] += int64(end.Sub(start) / time.Second)
		}
	}
	return sums, nil
}

func (s *GormStore) ActivePause(ctx context.Context, agentID string) (*types.PauseRecord, error) {
	var rec types.PauseRecord
	err := s.db.WithContext(ctx).Where("agent_id = ? AND is_active = ?", agentID, true).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("activePause", err)
	}
	return &rec, nil
}

func (s *GormStore) CreatePause(ctx context.Context, rec *types.PauseRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return storeErr("createPause", err)
	}
	return nil
}

func (s *GormStore) ClosePause(ctx context.Context, rec *types.PauseRecord) error {
	res := s.db.WithContext(ctx).Model(&types.PauseRecord{}).
		Where("id = ? AND is_active = ?", rec.ID, true).
		Updates(map[string]interface{}{
			"end_time":         rec.EndTime,
			"duration_seconds": rec.DurationSeconds,
			"is_active":        false,
		})
	if res.Error != nil {
		return storeErr("closePause", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.New(apperr.KindConflict, "closePause", rec.AgentID, "pause record is no longer active")
	}
	return nil
}

func (s *GormStore) ApprovePause(ctx context.Context, pauseID, supervisorID, notes string) (*types.PauseRecord, error) {
	res := s.db.WithContext(ctx).Model(&types.PauseRecord{}).
		Where("id = ? AND is_active = ?", pauseID, true).
		Updates(map[string]interface{}{
			"supervisor_approved": true,
			"supervisor_id":       supervisorID,
			"notes":               notes,
		})
	if res.Error != nil {
		return nil, storeErr("approvePause", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperr.New(apperr.KindNoActivePause, "approvePause", "", "pause is not active")
	}
	var rec types.PauseRecord
	if err := s.db.WithContext(ctx).Where("id = ?", pauseID).Take(&rec).Error; err != nil {
		return nil, storeErr("approvePause", err)
	}
	return &rec, nil
}

// MarkPauseAlertSent flips alertSent once. It returns false when the alert
// was already sent or the pause has ended.
func (s *GormStore) MarkPauseAlertSent(ctx context.Context, pauseID string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&types.PauseRecord{}).
		Where("id = ? AND is_active = ? AND alert_sent = ?", pauseID, true, false).
		Update("alert_sent", true)
	if res.Error != nil {
		return false, storeErr("markPauseAlertSent", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) ListActivePauses(ctx context.Context) ([]types.PauseRecord, error) {
	var recs []types.PauseRecord
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Order("start_time").Find(&recs).Error; err != nil {
		return nil, storeErr("listActivePauses", err)
	}
	return recs, nil
}

func (s *GormStore) ActiveSession(ctx context.Context, agentID string) (*types.WorkSessionRecord, error) {
	var rec types.WorkSessionRecord
	err := s.db.WithContext(ctx).Where("agent_id = ? AND is_active = ?", agentID, true).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("activeSession", err)
	}
	return &rec, nil
}

func (s *GormStore) GetSession(ctx context.Context, sessionID string) (*types.WorkSessionRecord, error) {
	var rec types.WorkSessionRecord
	err := s.db.WithContext(ctx).Where("id = ?", sessionID).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("getSession", err)
	}
	return &rec, nil
}

func (s *GormStore) CreateSession(ctx context.Context, rec *types.WorkSessionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return storeErr("createSession", err)
	}
	return nil
}

// CloseSession marks the session inactive. Counter columns are left alone;
// they are owned by AddSessionTotals.
func (s *GormStore) CloseSession(ctx context.Context, rec *types.WorkSessionRecord) error {
	res := s.db.WithContext(ctx).Model(&types.WorkSessionRecord{}).
		Where("id = ? AND is_active = ?", rec.ID, true).
		Updates(map[string]interface{}{
			"logout_time":            rec.LogoutTime,
			"total_duration_seconds": rec.TotalDurationSeconds,
			"end_reason":             rec.EndReason,
			"is_active":              false,
		})
	if res.Error != nil {
		return storeErr("closeSession", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.New(apperr.KindConflict, "closeSession", rec.AgentID, "session is no longer active")
	}
	return nil
}

// AddSessionTotals atomically adds delta to the session's counter columns
func (s *GormStore) AddSessionTotals(ctx context.Context, sessionID string, delta types.Counters) error {
	if delta.IsZero() {
		return nil
	}
	res := s.db.WithContext(ctx).Model(&types.WorkSessionRecord{}).
		Where("id = ?", sessionID).
		Updates(map[string]interface{}{
			"productive_time_seconds":      gorm.Expr("productive_time_seconds + ?", delta.ProductiveTime),
			"pause_time_seconds":           gorm.Expr("pause_time_seconds + ?", delta.PauseTime),
			"call_time_seconds":            gorm.Expr("call_time_seconds + ?", delta.CallTime),
			"after_call_work_time_seconds": gorm.Expr("after_call_work_time_seconds + ?", delta.AfterCallWorkTime),
			"calls_handled":                gorm.Expr("calls_handled + ?", delta.Calls),
			"sales_count":                  gorm.Expr("sales_count + ?", delta.Sales),
		})
	if res.Error != nil {
		return storeErr("addSessionTotals", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.New(apperr.KindInternal, "addSessionTotals", "", fmt.Sprintf("session %s not found", sessionID))
	}
	return nil
}

func (s *GormStore) SetSessionScores(ctx context.Context, sessionID string, quality, satisfaction *float64) (*types.WorkSessionRecord, error) {
	updates := map[string]interface{}{}
	if quality != nil {
		updates["quality_score"] = *quality
	}
	if satisfaction != nil {
		updates["customer_satisfaction"] = *satisfaction
	}
	if len(updates) > 0 {
		res := s.db.WithContext(ctx).Model(&types.WorkSessionRecord{}).Where("id = ?", sessionID).Updates(updates)
		if res.Error != nil {
			return nil, storeErr("setSessionScores", res.Error)
		}
	}
	return s.GetSession(ctx, sessionID)
}

// SumSessionsSince sums the counters of every session that started at or after
// since. A session still open from before since is not included.
func (s *GormStore) SumSessionsSince(ctx context.Context, agentID string, since time.Time) (types.Counters, error) {
	var row struct {
		Productive    int64
		Pause         int64
		CallTime      int64
		AfterCallWork int64
		Calls         int64
		Sales         int64
	}
	err := s.db.WithContext(ctx).Model(&types.WorkSessionRecord{}).
		Select(`COALESCE(SUM(productive_time_seconds), 0) AS productive,
			COALESCE(SUM(pause_time_seconds), 0) AS pause,
			COALESCE(SUM(call_time_seconds), 0) AS call_time,
			COALESCE(SUM(after_call_work_time_seconds), 0) AS after_call_work,
			COALESCE(SUM(calls_handled), 0) AS calls,
			COALESCE(SUM(sales_count), 0) AS sales`).
		Where("agent_id = ? AND login_time >= ?", agentID, since).
		Scan(&row).Error
	if err != nil {
		return types.Counters{}, storeErr("sumSessionsSince", err)
	}
	return types.Counters{
		ProductiveTime:    row.Productive,
		PauseTime:         row.Pause,
		CallTime:          row.CallTime,
		AfterCallWorkTime: row.AfterCallWork,
		Calls:             row.Calls,
		Sales:             row.Sales,
	}, nil
}

func (s *GormStore) ListActiveSessions(ctx context.Context) ([]types.WorkSessionRecord, error) {
	var recs []types.WorkSessionRecord
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Find(&recs).Error; err != nil {
		return nil, storeErr("listActiveSessions", err)
	}
	return recs, nil
}
