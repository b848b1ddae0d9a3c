package app

import (
	"net"

	"github.com/BigKAA/svcpulse/internal/config"
	"github.com/BigKAA/svcpulse/probe"
	"github.com/BigKAA/svcpulse/probe/amqpprobe"
	"github.com/BigKAA/svcpulse/probe/kafkaprobe"
	"github.com/BigKAA/svcpulse/probe/redisprobe"
	"github.com/BigKAA/svcpulse/probe/sqlprobe"
	"github.com/BigKAA/svcpulse/tasks"
)

// buildConnector returns the connector for a monitored dependency. A
// dependency with a configuration error gets a connector that always fails.
func buildConnector(cfg *config.Config, name string) probe.Connector {
	kind := kindOf(cfg, name)
	if err := cfg.DependencyError(name); err != nil {
		return probe.Unavailable(kind, err)
	}

	switch name {
	case config.DepDatabase:
		db := cfg.Database
		if db.Driver == config.DriverMySQL {
			dsn := sqlprobe.URLToDSN(db.URL)
			if db.URL == "" {
				dsn = sqlprobe.MySQLDSN(db.Host, db.Port, db.Name, db.User, db.Password)
			}
			return sqlprobe.NewMySQL(dsn)
		}
		dsn := db.URL
		if dsn == "" {
			dsn = sqlprobe.PostgresDSN(db.Host, db.Port, db.Name, db.User, db.Password)
		}
		return sqlprobe.NewPostgres(dsn)

	case config.DepCache:
		c := cfg.Cache
		if c.URL != "" {
			conn, err := redisprobe.FromURL(c.URL)
			if err != nil {
				return probe.Unavailable(kind, err)
			}
			return conn
		}
		return redisprobe.New(net.JoinHostPort(c.Host, c.Port), c.Password, c.DB)

	case config.DepBroker:
		conn, err := amqpprobe.New(cfg.AMQPURL)
		if err != nil {
			return probe.Unavailable(kind, err)
		}
		return conn

	case config.DepStream:
		conn, err := kafkaprobe.New(cfg.KafkaBrokers)
		if err != nil {
			return probe.Unavailable(kind, err)
		}
		return conn
	}
	return nil
}

func kindOf(cfg *config.Config, name string) probe.Kind {
	switch name {
	case config.DepDatabase:
		if cfg.Database.Driver == config.DriverMySQL {
			return probe.KindMySQL
		}
		return probe.KindPostgres
	case config.DepCache:
		return probe.KindRedis
	case config.DepBroker:
		return probe.KindAMQP
	case config.DepStream:
		return probe.KindKafka
	}
	return probe.KindTCP
}

// resultCache writes task results through the cache probe's connection.
func resultCache(p *probe.Probe) tasks.Cache {
	return redisprobe.NewCache(p)
}
