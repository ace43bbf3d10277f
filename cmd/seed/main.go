package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/barberhub/totem-api/internal/auth"
	"github.com/barberhub/totem-api/internal/config"
	"github.com/barberhub/totem-api/internal/logging"
)

type catalogItem struct {
	name  string
	price string
}

var services = []catalogItem{
	{name: "Haircut", price: "50.00"},
	{name: "Beard Trim", price: "30.00"},
	{name: "Mustache Wax", price: "15.00"},
}

func main() {
	withToken := flag.Bool("token", false, "Also print a dashboard admin token")
	flag.Parse()

	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	log := logger.WithField("module", "seed")

	// Connect to database
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("unable to connect to database: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("unable to ping database: %v", err)
	}

	// Seed in a transaction: the whole demo catalog or nothing
	tx, err := pool.Begin(ctx)
	if err != nil {
		log.Fatalf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	staffID, err := seedStaff(ctx, tx, log, "Carlos", "40.00")
	if err != nil {
		log.Fatalf("failed to seed staff: %v", err)
	}

	serviceIDs := make(map[string]uuid.UUID, len(services))
	for _, s := range services {
		id, err := seedService(ctx, tx, log, s)
		if err != nil {
			log.Fatalf("failed to seed service %q: %v", s.name, err)
		}
		serviceIDs[s.name] = id
	}

	productID, err := seedProduct(ctx, tx, log, catalogItem{name: "Pomade", price: "20.00"}, "2.00")
	if err != nil {
		log.Fatalf("failed to seed product: %v", err)
	}

	clientID, err := seedClient(ctx, tx, log, "Demo Client", "demo.client@example.com")
	if err != nil {
		log.Fatalf("failed to seed client: %v", err)
	}

	apptID, sessionID, err := seedAppointment(ctx, tx, clientID, staffID, serviceIDs["Haircut"])
	if err != nil {
		log.Fatalf("failed to seed appointment: %v", err)
	}

	if err := tx.Commit(ctx); err != nil {
		log.Fatalf("failed to commit: %v", err)
	}

	log.WithFields(logrus.Fields{
		"staff_id":       staffID,
		"client_id":      clientID,
		"product_id":     productID,
		"beard_trim_id":  serviceIDs["Beard Trim"],
		"appointment_id": apptID,
		"session_id":     sessionID,
	}).Info("seed completed successfully")

	if *withToken {
		token, err := auth.GenerateToken(cfg.DashboardJWTSecret, staffID, auth.RoleAdmin)
		if err != nil {
			log.Fatalf("failed to sign token: %v", err)
		}
		fmt.Println(token)
	}
}

// seedStaff creates the staff member if it doesn't exist.
func seedStaff(ctx context.Context, tx pgx.Tx, log logrus.FieldLogger, name, rate string) (uuid.UUID, error) {
	var id uuid.UUID
	err := tx.QueryRow(ctx, `SELECT id FROM staff WHERE name = $1 AND is_active = true LIMIT 1`, name).Scan(&id)
	if err == nil {
		log.Infof("staff '%s' already exists (ID: %s), skipping", name, id)
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("check staff: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO staff (name, commission_rate, is_active)
		VALUES ($1, $2, true)
		RETURNING id
	`, name, rate).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert staff: %w", err)
	}
	log.Infof("created staff '%s' (ID: %s)", name, id)
	return id, nil
}

func seedService(ctx context.Context, tx pgx.Tx, log logrus.FieldLogger, s catalogItem) (uuid.UUID, error) {
	var id uuid.UUID
	err := tx.QueryRow(ctx, `SELECT id FROM services WHERE name = $1 AND is_active = true LIMIT 1`, s.name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("check service: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO services (name, price, is_active)
		VALUES ($1, $2, true)
		RETURNING id
	`, s.name, s.price).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert service: %w", err)
	}
	log.Infof("created service '%s' (ID: %s)", s.name, id)
	return id, nil
}

// seedProduct creates a product paying a flat commission per unit.
func seedProduct(ctx context.Context, tx pgx.Tx, log logrus.FieldLogger, p catalogItem, commission string) (uuid.UUID, error) {
	var id uuid.UUID
	err := tx.QueryRow(ctx, `SELECT id FROM products WHERE name = $1 AND is_active = true LIMIT 1`, p.name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("check product: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO products (name, price, commission_value, is_active)
		VALUES ($1, $2, $3, true)
		RETURNING id
	`, p.name, p.price, commission).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert product: %w", err)
	}
	log.Infof("created product '%s' (ID: %s)", p.name, id)
	return id, nil
}

func seedClient(ctx context.Context, tx pgx.Tx, log logrus.FieldLogger, name, email string) (uuid.UUID, error) {
	var id uuid.UUID
	err := tx.QueryRow(ctx, `SELECT id FROM clients WHERE email = $1 LIMIT 1`, email).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("check client: %w", err)
	}

	err = tx.QueryRow(ctx, `INSERT INTO clients (name, email) VALUES ($1, $2) RETURNING id`, name, email).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert client: %w", err)
	}
	log.Infof("created client '%s' (ID: %s)", name, id)
	return id, nil
}

// seedAppointment books today's demo haircut and opens a kiosk session for it.
// A new appointment is created on every run.
func seedAppointment(ctx context.Context, tx pgx.Tx, clientID, staffID, serviceID uuid.UUID) (uuid.UUID, uuid.UUID, error) {
	now := time.Now()

	var apptID uuid.UUID
	err := tx.QueryRow(ctx, `
		INSERT INTO appointments (client_id, staff_id, service_id, scheduled_date, scheduled_time, status)
		VALUES ($1, $2, $3, $4, $5, 'scheduled')
		RETURNING id
	`, clientID, staffID, serviceID, now.Format("2006-01-02"), now.Format("15:04")).Scan(&apptID)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("insert appointment: %w", err)
	}

	var sessionID uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO totem_sessions (appointment_id, status)
		VALUES ($1, 'check_in')
		RETURNING id
	`, apptID).Scan(&sessionID)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("insert session: %w", err)
	}
	return apptID, sessionID, nil
}
