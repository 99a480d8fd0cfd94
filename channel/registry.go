package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Registry is the durable store of channel records.
type Registry interface {
	LoadAll(ctx context.Context) ([]*Channel, error)
	// GetByID returns nil without error when the channel does not exist.
	GetByID(ctx context.Context, id int64) (*Channel, error)
	// Save inserts or replaces the whole record in one statement.
	Save(ctx context.Context, ch *Channel) error
	DeleteByID(ctx context.Context, id int64) error
}

// gormRegistry implements Registry using GORM.
type gormRegistry struct {
	db *gorm.DB
}

// NewRegistry wraps an open GORM connection. The channels table must exist.
func NewRegistry(db *gorm.DB) *gormRegistry {
	return &gormRegistry{db: db}
}

// OpenRegistry connects to the configured database and migrates the channel
// table. Supported drivers are sqlite, postgres and mysql.
func OpenRegistry(driver, dsn string, log *slog.Logger) (*gormRegistry, error) {
	if log == nil {
		log = slog.Default()
	}
	dialector, err := getDialector(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("getting dialector: %w", err)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 &slogGormLogger{logger: log, level: logger.Warn},
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.AutoMigrate(&Channel{}); err != nil {
		return nil, fmt.Errorf("migrating channels: %w", err)
	}

	log.Info("channel registry opened", slog.String("driver", driver))
	return NewRegistry(db), nil
}

func getDialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "sqlite":
		if !strings.Contains(dsn, "?") {
			dsn += "?"
		} else {
			dsn += "&"
		}
		// Several CLI invocations and the server may share one file.
		dsn += "_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)"
		return sqlite.Open(dsn), nil
	case "postgres":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

func (r *gormRegistry) LoadAll(ctx context.Context) ([]*Channel, error) {
	var channels []*Channel
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("loading channels: %w", err)
	}
	return channels, nil
}

func (r *gormRegistry) GetByID(ctx context.Context, id int64) (*Channel, error) {
	var ch Channel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&ch).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting channel by ID: %w", err)
	}
	return &ch, nil
}

func (r *gormRegistry) Save(ctx context.Context, ch *Channel) error {
	if err := r.db.WithContext(ctx).Save(ch).Error; err != nil {
		return fmt.Errorf("saving channel: %w", err)
	}
	return nil
}

func (r *gormRegistry) DeleteByID(ctx context.Context, id int64) error {
	if err := r.db.WithContext(ctx).Delete(&Channel{}, id).Error; err != nil {
		return fmt.Errorf("deleting channel: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (r *gormRegistry) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// slogGormLogger implements GORM's logger.Interface using slog.
type slogGormLogger struct {
	logger *slog.Logger
	level  logger.LogLevel
}

func (l *slogGormLogger) LogMode(level logger.LogLevel) logger.Interface {
	return &slogGormLogger{logger: l.logger, level: level}
}

func (l *slogGormLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Info {
		l.logger.InfoContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *slogGormLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Warn {
		l.logger.WarnContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *slogGormLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Error {
		l.logger.ErrorContext(ctx, fmt.Sprintf(msg, args...))
	}
}

const slowQueryThreshold = time.Second

func (l *slogGormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= logger.Error:
		sql, rows := fc()
		l.logger.ErrorContext(ctx, "query failed",
			slog.String("sql", sql), slog.Int64("rows", rows),
			slog.Duration("elapsed", elapsed), slog.String("error", err.Error()))
	case elapsed > slowQueryThreshold && l.level >= logger.Warn:
		sql, rows := fc()
		l.logger.WarnContext(ctx, "slow query",
			slog.String("sql", sql), slog.Int64("rows", rows), slog.Duration("elapsed", elapsed))
	case l.level >= logger.Info && l.logger.Enabled(ctx, slog.LevelDebug):
		sql, rows := fc()
		l.logger.DebugContext(ctx, "query",
			slog.String("sql", sql), slog.Int64("rows", rows), slog.Duration("elapsed", elapsed))
	}
}
