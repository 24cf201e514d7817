package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/labstack/gommon/log"

	"github.com/iliyamo/parkb/internal/clock"
	"github.com/iliyamo/parkb/internal/config"
	"github.com/iliyamo/parkb/internal/database"
	"github.com/iliyamo/parkb/internal/model"
	"github.com/iliyamo/parkb/internal/parking"
	"github.com/iliyamo/parkb/internal/repository"
	"github.com/iliyamo/parkb/internal/utils"
)

// app is the state shared by every subcommand.
type app struct {
	cfg   config.Config
	clock clock.Real
	store repository.Store
	db    *sql.DB // nil for the memory store
	log   *log.Logger
}

// newApp loads configuration and opens the configured store. With
// PARKING_STORE=mysql the schema is migrated before returning.
func newApp(ctx context.Context) (*app, error) {
	cfg := config.Load()
	a := &app{cfg: cfg, clock: clock.Real{Loc: cfg.Parking.Location}, log: log.New("parkb")}
	a.log.SetLevel(log.INFO)

	switch cfg.Parking.Store {
	case config.StoreMySQL:
		db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			return nil, fmt.Errorf("open mysql: %w", err)
		}
		if err := database.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		a.db = db
		a.store = repository.NewMySQLStore(db, cfg.Parking.Location)
		a.log.Infof("store: mysql %s:%s/%s", cfg.DBHost, cfg.DBPort, cfg.DBName)
	default:
		a.store = repository.NewMemoryStore()
		a.log.Warnf("store: memory, state is lost on restart")
	}
	return a, nil
}

func (a *app) policy() parking.Policy {
	p := parking.DefaultPolicy()
	p.TotalSpots = a.cfg.Parking.TotalSpots
	p.SweepInterval = a.cfg.Parking.SweepInterval
	p.GracePeriod = a.cfg.Parking.GracePeriod
	return p
}

func (a *app) close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warnf("close mysql: %v", err)
		}
	}
}

// addUser creates a user with a bcrypt hashed password. With ifMissing an
// existing username is left untouched.
func (a *app) addUser(ctx context.Context, username, password string, role model.Role, ifMissing bool) (model.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return model.User{}, errors.New("username required")
	}
	if !role.Valid() {
		return model.User{}, fmt.Errorf("unknown role %q (want sub, emp or mng)", role)
	}
	if err := utils.CheckPassword(password); err != nil {
		return model.User{}, err
	}
	hash, err := utils.HashPassword(password, a.cfg.BcryptCost)
	if err != nil {
		return model.User{}, err
	}
	u := model.User{Username: username, Name: username, PasswordHash: hash, Role: role}
	err = a.store.InTx(ctx, func(tx repository.Tx) error { return tx.CreateUser(ctx, &u) })
	if ifMissing && errors.Is(err, repository.ErrDuplicate) {
		return u, nil
	}
	return u, err
}
