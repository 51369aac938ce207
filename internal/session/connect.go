package session

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	gomysql "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"github.com/suPer8Hu/dbrag/internal/common"
	"github.com/suPer8Hu/dbrag/internal/errs"
	"github.com/suPer8Hu/dbrag/internal/schema"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// Credentials identify the database a session talks to. For sqlite, Database
// is the file path (or a file: URI).
type Credentials struct {
	Driver   string `json:"driver"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
}

// DialectorFunc builds the gorm dialector for a set of credentials.
type DialectorFunc func(c Credentials, timeout time.Duration) (gorm.Dialector, error)

// DefaultDialector supports mysql (default) and sqlite.
func DefaultDialector(c Credentials, timeout time.Duration) (gorm.Dialector, error) {
	switch strings.ToLower(c.Driver) {
	case "", DriverMySQL:
		return mysql.Open(MySQLDSN(c, timeout)), nil
	case DriverSQLite:
		if c.Database == "" {
			return nil, errs.New(errs.KindInvalidInput, "sqlite requires a database path")
		}
		return gormsqlite.Open(c.Database), nil
	default:
		return nil, errs.Newf(errs.KindInvalidInput, "unsupported driver %q", c.Driver)
	}
}

// MySQLDSN formats a go-sql-driver DSN with a dial timeout.
func MySQLDSN(c Credentials, timeout time.Duration) string {
	cfg := gomysql.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	port := c.Port
	if port == 0 {
		port = 3306
	}
	cfg.Addr = net.JoinHostPort(c.Host, strconv.Itoa(port))
	cfg.DBName = c.Database
	cfg.Timeout = timeout
	cfg.ParseTime = true
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

type ConnectorOptions struct {
	ConnectTimeout  time.Duration
	MaxOpenConns    int
	ConnMaxIdleTime time.Duration
}

// Connector opens a database, introspects it and registers a new session.
type Connector struct {
	store *Store
	dial  DialectorFunc
	opts  ConnectorOptions
	log   logrus.FieldLogger
}

func NewConnector(store *Store, dial DialectorFunc, opts ConnectorOptions, log logrus.FieldLogger) *Connector {
	if dial == nil {
		dial = DefaultDialector
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 5
	}
	return &Connector{store: store, dial: dial, opts: opts, log: log}
}

// Connect fails with ConnectionError when the database cannot be reached and
// SchemaIntrospectionError when it can but its layout cannot be read. Nothing
// is stored on failure.
func (c *Connector) Connect(ctx context.Context, creds Credentials) (*Session, error) {
	dialector, err := c.dial(creds, c.opts.ConnectTimeout)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, errs.Wrap(errs.KindConnection, "database connection failed", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errs.Wrap(errs.KindConnection, "database connection failed", err)
	}
	sqlDB.SetMaxOpenConns(c.opts.MaxOpenConns)
	if c.opts.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(c.opts.ConnMaxIdleTime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()
	if err := db.WithContext(pingCtx).Exec("SELECT 1").Error; err != nil {
		_ = sqlDB.Close()
		return nil, errs.Wrap(errs.KindConnection, "database connection failed", err)
	}

	snap, err := schema.Introspect(ctx, db, creds.Database)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	id, err := common.NewULID()
	if err != nil {
		_ = sqlDB.Close()
		return nil, errs.Wrap(errs.KindInternal, "session id", err)
	}

	driver := strings.ToLower(creds.Driver)
	if driver == "" {
		driver = DriverMySQL
	}
	sess := &Session{
		ID:          id,
		Driver:      driver,
		Database:    creds.Database,
		DB:          db,
		Schema:      snap,
		TextColumns: snap.TextColumns(),
	}
	c.store.Put(sess)

	c.log.WithFields(logrus.Fields{
		"session_id": id,
		"driver":     driver,
		"database":   creds.Database,
		"tables":     len(snap.TableNames()),
	}).Info("session connected")
	return sess, nil
}

func (c Credentials) String() string {
	return fmt.Sprintf("%s://%s@%s:%d/%s", c.Driver, c.User, c.Host, c.Port, c.Database)
}
