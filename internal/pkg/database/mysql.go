// internal/pkg/database/mysql.go
package database

import (
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"adengine/internal/pkg/config"
)

const errDuplicateEntry = 1062

// DSN 用 go-sql-driver 的 Config 生成连接串
func DSN(cfg config.MySQLConfig) string {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = cfg.Addr
	mc.DBName = cfg.Database
	mc.ParseTime = true
	mc.Loc = time.UTC
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc.FormatDSN()
}

// NewGormDB 打开 MySQL 连接池
func NewGormDB(cfg config.MySQLConfig) (*gorm.DB, error) {
	db, err := gorm.Open(gormmysql.Open(DSN(cfg)), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Warn),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLife)
	log.Info().Str("addr", cfg.Addr).Str("db", cfg.Database).Msg("✅ Connected to MySQL.")
	return db, nil
}

// IsDuplicateEntry 报告错误是否为唯一键冲突
func IsDuplicateEntry(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == errDuplicateEntry
}
