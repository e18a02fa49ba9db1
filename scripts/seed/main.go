// Command seed loads a small demo fleet: staff accounts, categories, tracked
// assets and a couple of open assignments. It refuses to run against a
// directory that already has users.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/utv-amats/amats/internal/app"
	"github.com/utv-amats/amats/internal/assets"
	"github.com/utv-amats/amats/internal/assignments"
	"github.com/utv-amats/amats/internal/shared"
	"github.com/utv-amats/amats/internal/users"
)

type seedAsset struct {
	name     string
	category string
	serial   string
	mac      string
	location string
}

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	password := getenv("SEED_PASSWORD", "changeme123")

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	svc := app.NewServices(cfg, pool, nil, nil, app.NewLogger(cfg))
	actor := shared.SystemActor("seed")

	existing, err := svc.Users.List(ctx, actor, users.ListFilter{})
	if err != nil {
		log.Fatalf("list users: %v", err)
	}
	if len(existing) > 0 {
		log.Fatalf("directory already has %d users; seed only runs on an empty database", len(existing))
	}

	fmt.Println("→ Seeding users...")
	staff := map[string]users.User{}
	for _, in := range []users.CreateInput{
		{Username: "admin", Email: "admin@amats.local", FullName: "System Administrator", Role: "ADMIN", Password: password},
		{Username: "supervisor", Email: "lab.supervisor@amats.local", FullName: "Lab Supervisor", Role: "SUPERVISOR", Department: "IT Services", Password: password},
		{Username: "tech1", Email: "tech1@amats.local", FullName: "Field Technician", Role: "TECHNICIAN", Department: "IT Services", EmployeeID: "T-001", Password: password},
		{Username: "tech2", Email: "tech2@amats.local", FullName: "Network Technician", Role: "TECHNICIAN", Department: "Networks", EmployeeID: "T-002", Password: password},
	} {
		u, err := svc.Users.Create(ctx, actor, in)
		if err != nil {
			log.Fatalf("create user %s: %v", in.Username, err)
		}
		staff[u.Username] = u
	}

	fmt.Println("→ Seeding categories...")
	categories := map[string]int64{}
	for _, in := range []assets.CategoryInput{
		{Name: "Laptop", Description: "Portable computers"},
		{Name: "Networking", Description: "Switches, routers and access points"},
		{Name: "Projector", Description: "Lecture room projectors"},
	} {
		c, err := svc.Assets.CreateCategory(ctx, actor, in)
		if err != nil {
			log.Fatalf("create category %s: %v", in.Name, err)
		}
		categories[c.Name] = c.ID
	}

	fmt.Println("→ Seeding assets...")
	var created []assets.Asset
	for _, a := range []seedAsset{
		{name: "Dell Latitude 5440", category: "Laptop", serial: "DL5440-0001", mac: "3c:52:82:10:00:01", location: "Store room"},
		{name: "Dell Latitude 5440", category: "Laptop", serial: "DL5440-0002", mac: "3c:52:82:10:00:02", location: "Store room"},
		{name: "Lenovo ThinkPad T14", category: "Laptop", serial: "TP14-0001", mac: "8c:16:45:20:00:01", location: "Store room"},
		{name: "Cisco Catalyst 9200", category: "Networking", serial: "C9200-0001", mac: "00:1b:54:30:00:01", location: "Server room"},
		{name: "Ubiquiti U6 Pro", category: "Networking", serial: "U6P-0001", mac: "74:83:c2:40:00:01", location: "Block A corridor"},
		{name: "Epson EB-X51", category: "Projector", serial: "EBX51-0001", location: "Lecture hall 2"},
	} {
		asset, err := svc.Assets.CreateAsset(ctx, actor, assets.CreateAssetInput{
			Name:         a.name,
			CategoryID:   categories[a.category],
			SerialNumber: a.serial,
			Condition:    assets.ConditionGood,
			Location:     a.location,
			MACAddress:   a.mac,
		})
		if err != nil {
			log.Fatalf("create asset %s: %v", a.serial, err)
		}
		created = append(created, asset)
	}

	fmt.Println("→ Seeding assignments...")
	due := time.Now().Add(14 * 24 * time.Hour)
	for i, holder := range []string{"tech1", "tech2"} {
		if _, err := svc.Assignments.Issue(ctx, actor, assignments.IssueInput{
			AssetID:  created[i].ID,
			HolderID: staff[holder].ID,
			DueAt:    &due,
			Purpose:  "Field support rotation",
		}); err != nil {
			log.Fatalf("issue %s: %v", created[i].Tag, err)
		}
	}

	fmt.Printf("✓ Seeded %d users, %d categories, %d assets\n", len(staff), len(categories), len(created))
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
