package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/RobertoIHH/MQ7ServerWifi/models"
	"github.com/RobertoIHH/MQ7ServerWifi/services"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	date := flag.String("date", time.Now().Format(models.DayLayout), "Day to read (YYYY-MM-DD)")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logger.Warn("Error loading .env file", zap.Error(err))
	}

	dbURL := os.Getenv("FIREBASE_DB_URL")
	serviceAccountJSON := os.Getenv("FIREBASE_SERVICE_ACCOUNT_JSON")
	if dbURL == "" {
		logger.Fatal("FIREBASE_DB_URL environment variable is not set")
	}
	if serviceAccountJSON == "" {
		logger.Fatal("FIREBASE_SERVICE_ACCOUNT_JSON environment variable is not set")
	}
	if _, err := time.Parse(models.DayLayout, *date); err != nil {
		logger.Fatal("Invalid date, use YYYY-MM-DD", zap.String("date", *date))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fs, err := services.NewFirebaseService(ctx, dbURL, serviceAccountJSON, time.Local, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Firebase", zap.Error(err))
	}
	defer fs.Close()

	records, err := fs.ReadDay(ctx, *date)
	if err != nil {
		logger.Fatal("Failed to read readings", zap.Error(err))
	}

	fmt.Printf("Total readings for %s: %d\n", *date, len(records))
	for _, rec := range records {
		line, err := json.Marshal(rec)
		if err != nil {
			logger.Error("Failed to encode record", zap.Error(err))
			continue
		}
		fmt.Println(string(line))
	}
}
