package providers_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/dsvault/internal/providers"
	"github.com/systmms/dsvault/pkg/provider"
	"github.com/systmms/dsvault/pkg/secure"
	"github.com/systmms/dsvault/tests/fakes"
)

const sqlPostgresConfig = "{driver: postgres, dsn: 'postgres://app@db.internal:5432/vault?sslmode=disable'}"

func TestSQLFactoryContract(t *testing.T) {
	store := fakes.NewFakeSQLStore()
	store.Versioned = true
	secrets := make(map[string]string, 100)
	for i := 0; i < 100; i++ {
		name := fmt.Sprintf("secret-%03d", i)
		secrets[name] = fmt.Sprintf("value-%03d", i)
		store.Put(name, secrets[name])
	}

	provider.RunFactoryContractTests(t, provider.FactoryContract{
		Factory: providers.NewSQLFactory(nil, providers.WithSQLOpener(store.Open)),
		ValidConfig: func(*testing.T) string {
			return "{driver: postgres, dsn: 'postgres://app@db.internal/vault?sslmode=disable', version_column: version}"
		},
		InvalidConfigs: map[string]string{
			"missing driver":        "{dsn: 'postgres://app@db/vault'}",
			"unsupported driver":    "{driver: sqlite, dsn: 'file.db'}",
			"no connection":         "{driver: postgres}",
			"dsn and host":          "{driver: mysql, dsn: 'u@tcp(db)/v', host: db, database: v}",
			"table injection":       "{driver: postgres, dsn: 'postgres://db/v', table: 'secrets; DROP TABLE users'}",
			"column with dash":      "{driver: postgres, dsn: 'postgres://db/v', value_column: secret-value}",
			"malformed mysql dsn":   "{driver: mysql, dsn: 'not a dsn'}",
			"malformed pg dsn":      "{driver: postgres, dsn: 'host'}",
			"malformed pgx dsn":     "{driver: pgx, dsn: 'postgres://db:notaport/v'}",
			"password without user": "{driver: postgres, host: db, database: v, password: pw}",
			"unknown field":         "{driver: postgres, dsn: 'postgres://db/v', schema: public}",
		},
		Secrets: secrets,
	})
}

func TestSQLProvider_Values(t *testing.T) {
	t.Parallel()

	store := fakes.NewFakeSQLStore()
	store.Put("api_key", "first")
	store.Put("api_key", "second")
	store.Put("empty", "")
	store.PutNull("nulled")

	ctx := context.Background()
	p, err := providers.NewSQLFactory(nil, providers.WithSQLOpener(store.Open)).
		Create(ctx, secure.NewString(sqlPostgresConfig))
	require.NoError(t, err)
	defer func() { _ = provider.Close(p) }()

	secret, err := p.GetSecret(ctx, "api_key")
	require.NoError(t, err)
	assert.True(t, secret.Value.Equal("second"))
	assert.False(t, secret.HasVersion(), "no version column configured")
	secret.Destroy()

	secret, err = p.GetSecret(ctx, "empty")
	require.NoError(t, err)
	assert.Equal(t, 0, secret.Value.Len())
	secret.Destroy()

	_, err = p.GetSecret(ctx, "nulled")
	assert.Equal(t, provider.SecretNotFound("nulled"), err)
}

func TestSQLProvider_Queries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  string
		query   string
		rows    func() *sqlmock.Rows
		want    string
		version string
	}{
		{
			name:   "postgres defaults",
			config: sqlPostgresConfig,
			query:  `SELECT "value" FROM "secrets" WHERE "name" = $1`,
			rows:   func() *sqlmock.Rows { return sqlmock.NewRows([]string{"value"}).AddRow("pg-secret") },
			want:   "pg-secret",
		},
		{
			name:    "postgres custom table",
			config:  "{driver: postgresql, host: db.internal, database: vault, username: app, table: vault.entries, name_column: key, value_column: secret_value, version_column: rev}",
			query:   `SELECT "secret_value", "rev" FROM "vault"."entries" WHERE "key" = $1`,
			rows:    func() *sqlmock.Rows { return sqlmock.NewRows([]string{"secret_value", "rev"}).AddRow([]byte("pg-custom"), int64(7)) },
			want:    "pg-custom",
			version: "7",
		},
		{
			name:   "pgx",
			config: "{driver: pgx, host: db.internal, database: vault, username: app, sslmode: disable}",
			query:  `SELECT "value" FROM "secrets" WHERE "name" = $1`,
			rows:   func() *sqlmock.Rows { return sqlmock.NewRows([]string{"value"}).AddRow([]byte("pgx-secret")) },
			want:   "pgx-secret",
		},
		{
			name:   "mysql",
			config: "{driver: mysql, dsn: 'app:pw@tcp(db.internal:3306)/vault'}",
			query:  "SELECT `value` FROM `secrets` WHERE `name` = ?",
			rows:   func() *sqlmock.Rows { return sqlmock.NewRows([]string{"value"}).AddRow("my-secret") },
			want:   "my-secret",
		},
		{
			name:    "mariadb with version",
			config:  "{driver: mariadb, host: db.internal, port: 3307, database: vault, username: app, version_column: updated}",
			query:   "SELECT `value`, `updated` FROM `secrets` WHERE `name` = ?",
			rows:    func() *sqlmock.Rows { return sqlmock.NewRows([]string{"value", "updated"}).AddRow("maria", "2026-01-01") },
			want:    "maria",
			version: "2026-01-01",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
			require.NoError(t, err)
			mock.ExpectQuery(tt.query).WithArgs("db_password").WillReturnRows(tt.rows())
			mock.ExpectClose()

			opener := func(string, string) (*sql.DB, error) { return db, nil }
			p, err := providers.NewSQLFactory(nil, providers.WithSQLOpener(opener)).
				Create(context.Background(), secure.NewString(tt.config))
			require.NoError(t, err)

			secret, err := p.GetSecret(context.Background(), "db_password")
			require.NoError(t, err)
			assert.True(t, secret.Value.Equal(tt.want))
			assert.Equal(t, tt.version, secret.Version)
			secret.Destroy()

			require.NoError(t, provider.Close(p))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSQLProvider_Errors(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	query := `SELECT "value" FROM "secrets" WHERE "name" = $1`
	mock.ExpectQuery(query).WithArgs("missing").WillReturnRows(sqlmock.NewRows([]string{"value"}))
	mock.ExpectQuery(query).WithArgs("broken").WillReturnError(errors.New("pq: relation \"secrets\" does not exist"))
	mock.ExpectClose()

	opener := func(string, string) (*sql.DB, error) { return db, nil }
	p, err := providers.NewSQLFactory(nil, providers.WithSQLOpener(opener)).
		Create(context.Background(), secure.NewString(sqlPostgresConfig))
	require.NoError(t, err)

	_, err = p.GetSecret(context.Background(), "missing")
	assert.Equal(t, provider.SecretNotFound("missing"), err)

	_, err = p.GetSecret(context.Background(), "broken")
	require.Error(t, err)
	assert.True(t, provider.IsClientError(err))
	assert.Contains(t, err.Error(), "does not exist")

	require.NoError(t, provider.Close(p))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLFactory_Ping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		pingErr error
	}{
		{name: "reachable"},
		{name: "refused", pingErr: errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
			require.NoError(t, err)
			mock.ExpectPing().WillReturnError(tt.pingErr)
			mock.ExpectClose()

			config := secure.NewString(sqlPostgresConfig)
			defer config.Destroy()

			opener := func(string, string) (*sql.DB, error) { return db, nil }
			err = providers.NewSQLFactory(nil, providers.WithSQLOpener(opener)).Validate(context.Background(), config)
			if tt.pingErr != nil {
				assert.True(t, provider.IsClientError(err))
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())

			createDB, createMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
			require.NoError(t, err)
			createMock.ExpectPing().WillReturnError(tt.pingErr)
			createMock.ExpectClose()

			createOpener := func(string, string) (*sql.DB, error) { return createDB, nil }
			p, err := providers.NewSQLFactory(nil, providers.WithSQLOpener(createOpener)).
				Create(context.Background(), secure.NewString(sqlPostgresConfig))
			if tt.pingErr != nil {
				assert.Nil(t, p)
				assert.True(t, provider.IsClientError(err))
			} else {
				require.NoError(t, err)
				require.NoError(t, provider.Close(p))
			}
			assert.NoError(t, createMock.ExpectationsWereMet())
		})
	}
}

func TestSQLFactory_Unreachable(t *testing.T) {
	t.Parallel()

	configs := map[string]string{
		"postgres": "{driver: postgres, dsn: 'postgres://app:pw@127.0.0.1:1/vault?sslmode=disable&connect_timeout=2', timeout: 5s}",
		"pgx":      "{driver: pgx, dsn: 'postgres://app:pw@127.0.0.1:1/vault?sslmode=disable&connect_timeout=2', timeout: 5s}",
		"mysql":    "{driver: mysql, dsn: 'app:pw@tcp(127.0.0.1:1)/vault?timeout=2s', timeout: 5s}",
	}

	for name, raw := range configs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			config := secure.NewString(raw)
			defer config.Destroy()

			err := providers.NewSQLFactory(nil).Validate(context.Background(), config)
			require.Error(t, err)
			assert.True(t, provider.IsClientError(err))
			assert.NotContains(t, err.Error(), "app:pw")

			p, err := providers.NewSQLFactory(nil).Create(context.Background(), secure.NewString(raw))
			assert.Nil(t, p)
			assert.True(t, provider.IsClientError(err))
		})
	}
}
