package providers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"github.com/systmms/dsvault/internal/logging"
	"github.com/systmms/dsvault/pkg/provider"
	"github.com/systmms/dsvault/pkg/secure"
)

// KindSQL is the SQL table backend kind.
const KindSQL = "sql"

// Defaults for the SQL backend
const (
	DefaultSQLTable        = "secrets"
	DefaultSQLNameColumn   = "name"
	DefaultSQLValueColumn  = "value"
	DefaultSQLMaxOpenConns = 10
	DefaultSQLTimeout      = 30 * time.Second
)

var sqlSchema = mustLoadSchema(KindSQL, "sql.json")

// SQLOpenFunc opens a database handle for a checked driver name and DSN
type SQLOpenFunc func(driverName, dsn string) (*sql.DB, error)

// SQLConfig holds configuration for the SQL backend
type SQLConfig struct {
	// Driver is postgres, pgx or mysql. pgx speaks the postgres protocol
	// through jackc/pgx instead of lib/pq.
	Driver string `yaml:"driver"`

	// DSN is a complete connection string. When empty it is built from the
	// connection fields below.
	DSN string `yaml:"dsn"`

	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`

	Table         string `yaml:"table"`
	NameColumn    string `yaml:"name_column"`
	ValueColumn   string `yaml:"value_column"`
	VersionColumn string `yaml:"version_column"`

	MaxOpenConns int           `yaml:"max_open_conns"`
	Timeout      time.Duration `yaml:"timeout"`
}

func (c *SQLConfig) applyDefaults() {
	switch c.Driver {
	case "postgresql":
		c.Driver = "postgres"
	case "mariadb":
		c.Driver = "mysql"
	}
	if c.Table == "" {
		c.Table = DefaultSQLTable
	}
	if c.NameColumn == "" {
		c.NameColumn = DefaultSQLNameColumn
	}
	if c.ValueColumn == "" {
		c.ValueColumn = DefaultSQLValueColumn
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = DefaultSQLMaxOpenConns
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultSQLTimeout
	}
}

// connectionString returns the DSN, building it from the connection fields
// when none was given
func (c SQLConfig) connectionString() string {
	if c.DSN != "" {
		return c.DSN
	}

	switch c.Driver {
	case "mysql":
		cfg := mysql.NewConfig()
		cfg.User = c.Username
		cfg.Passwd = c.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.portOr(3306)))
		cfg.DBName = c.Database
		cfg.Timeout = c.Timeout
		return cfg.FormatDSN()
	default:
		u := url.URL{
			Scheme: "postgres",
			Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.portOr(5432))),
			Path:   "/" + c.Database,
		}
		if c.Password != "" {
			u.User = url.UserPassword(c.Username, c.Password)
		} else if c.Username != "" {
			u.User = url.User(c.Username)
		}
		q := url.Values{}
		sslmode := c.SSLMode
		if sslmode == "" {
			sslmode = "require"
		}
		q.Set("sslmode", sslmode)
		q.Set("connect_timeout", strconv.Itoa(int(c.Timeout.Seconds())))
		u.RawQuery = q.Encode()
		return u.String()
	}
}

func (c SQLConfig) portOr(def int) int {
	if c.Port > 0 {
		return c.Port
	}
	return def
}

// checkDSN parses dsn with the driver's own parser. Parser messages can
// quote the input, so they are not passed on.
func checkDSN(driverName, dsn string) error {
	switch driverName {
	case "postgres":
		if _, err := pq.NewConnector(dsn); err != nil {
			return provider.InvalidConfiguration("dsn is not a valid postgres connection string")
		}
	case "pgx":
		if _, err := pgx.ParseConfig(dsn); err != nil {
			return provider.InvalidConfiguration("dsn is not a valid postgres connection string")
		}
	case "mysql":
		if _, err := mysql.ParseDSN(dsn); err != nil {
			return provider.InvalidConfiguration("dsn is not a valid mysql data source name")
		}
	default:
		return provider.InvalidConfiguration("unsupported driver %q", driverName)
	}
	return nil
}

// quoteIdentifier quotes a possibly schema-qualified identifier. The schema
// restricts identifiers to word characters.
func quoteIdentifier(driverName, ident string) string {
	parts := strings.Split(ident, ".")
	for i, part := range parts {
		if driverName == "mysql" {
			parts[i] = "`" + part + "`"
		} else {
			parts[i] = pq.QuoteIdentifier(part)
		}
	}
	return strings.Join(parts, ".")
}

// selectQuery builds the lookup statement for cfg
func selectQuery(cfg SQLConfig) string {
	columns := quoteIdentifier(cfg.Driver, cfg.ValueColumn)
	if cfg.VersionColumn != "" {
		columns += ", " + quoteIdentifier(cfg.Driver, cfg.VersionColumn)
	}
	placeholder := "$1"
	if cfg.Driver == "mysql" {
		placeholder = "?"
	}
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		columns,
		quoteIdentifier(cfg.Driver, cfg.Table),
		quoteIdentifier(cfg.Driver, cfg.NameColumn),
		placeholder,
	)
}

// SQLOption configures an SQLFactory
type SQLOption func(*SQLFactory)

// WithSQLOpener sets how database handles are opened (for testing)
func WithSQLOpener(open SQLOpenFunc) SQLOption {
	return func(f *SQLFactory) {
		f.open = open
	}
}

// SQLFactory builds providers reading a secrets table
type SQLFactory struct {
	logger *logging.Logger
	open   SQLOpenFunc
}

// NewSQLFactory creates the sql factory
func NewSQLFactory(logger *logging.Logger, opts ...SQLOption) *SQLFactory {
	f := &SQLFactory{
		logger: loggerOrDiscard(logger, KindSQL),
		open:   sql.Open,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Kind returns "sql"
func (f *SQLFactory) Kind() string {
	return KindSQL
}

// Validate checks the configuration and pings the database
func (f *SQLFactory) Validate(ctx context.Context, config *secure.String) error {
	cfg, db, err := f.connect(config)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	return f.ping(ctx, cfg, db)
}

// Create makes the same checks as Validate, keeps the connection pool and
// consumes the configuration.
func (f *SQLFactory) Create(ctx context.Context, config *secure.String) (provider.VaultProvider, error) {
	defer config.Destroy()

	cfg, db, err := f.connect(config)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := f.ping(ctx, cfg, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLProvider{
		db:        db,
		logger:    f.logger,
		query:     selectQuery(cfg),
		versioned: cfg.VersionColumn != "",
		timeout:   cfg.Timeout,
	}, nil
}

func (f *SQLFactory) ping(ctx context.Context, cfg SQLConfig, db *sql.DB) error {
	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if ctx.Err() != nil {
			return clientError("ping", ctx.Err())
		}
		return clientError("failed to connect to database", err)
	}
	f.logger.Debug("connected to %s database", cfg.Driver)
	return nil
}

func (f *SQLFactory) connect(config *secure.String) (SQLConfig, *sql.DB, error) {
	var cfg SQLConfig
	if err := sqlSchema.Decode(config, &cfg); err != nil {
		return cfg, nil, err
	}
	cfg.applyDefaults()

	dsn := cfg.connectionString()
	if err := checkDSN(cfg.Driver, dsn); err != nil {
		return cfg, nil, err
	}

	db, err := f.open(cfg.Driver, dsn)
	if err != nil {
		return cfg, nil, provider.InvalidConfiguration("cannot open %s database", cfg.Driver)
	}
	return cfg, db, nil
}

// SQLProvider reads secrets from one table. Safe for concurrent use; the
// pool is owned by the provider.
type SQLProvider struct {
	db        *sql.DB
	logger    *logging.Logger
	query     string
	versioned bool
	timeout   time.Duration
}

// GetSecret selects the row whose name column equals name. A NULL value is
// treated as absent.
func (p *SQLProvider) GetSecret(ctx context.Context, name string) (*provider.ProviderSecret, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var (
		value   []byte
		version sql.NullString
	)
	dest := []interface{}{&value}
	if p.versioned {
		dest = append(dest, &version)
	}

	err := p.db.QueryRowContext(ctx, p.query, name).Scan(dest...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, provider.SecretNotFound(name)
		}
		if ctx.Err() != nil {
			return nil, clientError("query", ctx.Err())
		}
		return nil, clientError("query", err)
	}
	if value == nil {
		return nil, provider.SecretNotFound(name)
	}
	return newSecret(value, version.String), nil
}

// Close closes the connection pool
func (p *SQLProvider) Close() error {
	return p.db.Close()
}
