package db

import (
	"log"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"todoapi/internal/domain/errors"
)

func Migration(dbDSN string, migratePath string) error {
	if dbDSN == "" || migratePath == "" {
		return errors.ErrInvalidInput
	}

	m, err := migrate.New("file://"+migratePath, dbDSN)
	if err != nil {
		log.Println("[ERROR] Не удалось инициализировать миграции:", err)
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		log.Println("[ERROR] Не удалось применить миграции:", err)
		return err
	}
	return nil
}
