package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"todoapi/internal/server"
	"todoapi/repository/db"
	storage "todoapi/repository/inmemory"
)

func main() {
	log.Println("Запуск сервиса задач...")

	if err := godotenv.Load(); err != nil {
		log.Println("[WARN] Файл .env не найден, используем переменные окружения")
	}

	cfg := server.ReadConfig()

	var accountRepo server.AccountRepository
	var todoRepo server.TodoRepository

	dbStorage, err := db.NewStorage(cfg.DBStr, cfg.BcryptCost)
	if err != nil {
		log.Println("[WARN] Не удалось подключиться к БД, используем память:", err)
		inmem := storage.NewStorage(cfg.BcryptCost)
		accountRepo = inmem
		todoRepo = inmem
	} else {
		if err := db.Migration(cfg.DBStr, cfg.MigratePath); err != nil {
			log.Fatalf("[ERROR] Ошибка применения миграций: %v", err)
		}
		log.Println("[SUCCESS] Миграции применены успешно")
		defer dbStorage.Close()
		accountRepo = dbStorage
		todoRepo = dbStorage
	}

	api := server.NewTodoAPI(accountRepo, todoRepo, cfg)
	if api == nil {
		log.Fatal("[ERROR] Не удалось инициализировать API")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("Сервис запущен на %s:%d", cfg.Addr, cfg.Port)
		if err := api.Start(); err != nil {
			serverErr <- err
		}
	}()

	select {
	case sig := <-sigChan:
		log.Printf("[INFO] Получен сигнал %v, начинаем graceful shutdown...", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := api.Shutdown(shutdownCtx); err != nil {
			log.Printf("[ERROR] Ошибка при graceful shutdown: %v", err)
		} else {
			log.Println("[SUCCESS] Graceful shutdown выполнен успешно")
		}

	case err := <-serverErr:
		log.Printf("[ERROR] Ошибка сервера: %v", err)
	}

	log.Println("Сервис завершен")
}
