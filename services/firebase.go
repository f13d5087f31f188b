package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/RobertoIHH/MQ7ServerWifi/models"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// FirebaseReadingsPath is the Realtime Database node mirrored records live
// under, one child per day.
const FirebaseReadingsPath = "gas-readings"

// firebaseRecord mirrors the typed view of models.Record with keys the
// Realtime Database accepts; "/" is not allowed in a key. Values of the wrong
// type in the day file are not mirrored.
type firebaseRecord struct {
	Timestamp       float64     `json:"timestamp"`
	ServerTimestamp string      `json:"serverTimestamp"`
	GasType         models.Mode `json:"gasType"`
	ADC             *float64    `json:"ADC,omitempty"`
	V               *float64    `json:"V,omitempty"`
	Rs              *float64    `json:"Rs,omitempty"`
	RsR0            *float64    `json:"Rs_R0,omitempty"`
	PPM             *float64    `json:"ppm,omitempty"`
	Gas             string      `json:"gas,omitempty"`
	GasIndex        *int        `json:"gas_index,omitempty"`
}

func toFirebaseRecord(r *models.Record) firebaseRecord {
	return firebaseRecord{
		Timestamp:       r.Timestamp,
		ServerTimestamp: r.ServerTimestamp,
		GasType:         r.GasType,
		ADC:             r.ADC,
		V:               r.V,
		Rs:              r.Rs,
		RsR0:            r.RsR0,
		PPM:             r.PPM,
		Gas:             r.Gas,
		GasIndex:        r.GasIndex,
	}
}

func (r firebaseRecord) record() *models.Record {
	return &models.Record{
		Timestamp:       r.Timestamp,
		ServerTimestamp: r.ServerTimestamp,
		GasType:         r.GasType,
		ADC:             r.ADC,
		V:               r.V,
		Rs:              r.Rs,
		RsR0:            r.RsR0,
		PPM:             r.PPM,
		Gas:             r.Gas,
		GasIndex:        r.GasIndex,
	}
}

type FirebaseService struct {
	client   *db.Client
	location *time.Location
	logger   *zap.Logger
}

func NewFirebaseService(ctx context.Context, dbURL, serviceAccountJSON string, location *time.Location, logger *zap.Logger) (*FirebaseService, error) {
	if location == nil {
		location = time.Local
	}

	conf := &firebase.Config{
		DatabaseURL: dbURL,
	}

	opt := option.WithCredentialsJSON([]byte(serviceAccountJSON))
	app, err := firebase.NewApp(ctx, conf, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting database client: %w", err)
	}

	fs := &FirebaseService{
		client:   client,
		location: location,
		logger:   logger,
	}

	if err := fs.testConnection(ctx); err != nil {
		return nil, fmt.Errorf("firebase connection test failed: %w", err)
	}

	return fs, nil
}

// testConnection tests Firebase connection with retry logic
func (fs *FirebaseService) testConnection(ctx context.Context) error {
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		fs.logger.Info("Testing Firebase connection", zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries))

		var data interface{}
		err := fs.client.NewRef(FirebaseReadingsPath).OrderByKey().LimitToLast(1).Get(ctx, &data)
		if err == nil {
			fs.logger.Info("Firebase connection successful")
			return nil
		}

		fs.logger.Warn("Firebase connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	return fmt.Errorf("failed to connect to Firebase after %d attempts", maxRetries)
}

// WriteBatch stores records in one multi-path update.
func (fs *FirebaseService) WriteBatch(ctx context.Context, records []*models.Record) error {
	if len(records) == 0 {
		return nil
	}

	updates := make(map[string]interface{}, len(records))
	for _, rec := range records {
		at := rec.IngestedAt()
		if at.IsZero() {
			at = time.Now()
		}
		day := at.In(fs.location).Format(models.DayLayout)
		updates[day+"/"+uuid.NewString()] = toFirebaseRecord(rec)
	}

	if err := fs.client.NewRef(FirebaseReadingsPath).Update(ctx, updates); err != nil {
		return fmt.Errorf("error writing batch: %w", err)
	}
	return nil
}

// ReadDay returns the mirrored records of one day ordered by ingestion time.
func (fs *FirebaseService) ReadDay(ctx context.Context, date string) ([]*models.Record, error) {
	var data map[string]firebaseRecord
	if err := fs.client.NewRef(FirebaseReadingsPath+"/"+date).Get(ctx, &data); err != nil {
		return nil, fmt.Errorf("error reading %s: %w", date, err)
	}

	records := make([]*models.Record, 0, len(data))
	for _, rec := range data {
		records = append(records, rec.record())
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].ServerTimestamp < records[j].ServerTimestamp
	})
	return records, nil
}

// Close closes the Firebase connection
func (fs *FirebaseService) Close() error {
	fs.logger.Info("Closing Firebase service")
	// Firebase client doesn't require explicit closing but we log it
	return nil
}
