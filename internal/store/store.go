// Package store keeps persons, vision records and menu content in sqlite.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const memoryPath = ":memory:"

var (
	ErrNotFound   = errors.New("record not found")
	ErrPhoneTaken = errors.New("phone already belongs to another person")
	ErrBadPhone   = errors.New("phone number is not recognised")
)

type Store struct {
	mu   sync.RWMutex
	db   *gorm.DB
	path string
}

// Open connects to the database file (or ":memory:") and migrates the schema.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	db, err := s.connect()
	if err != nil {
		return nil, err
	}
	s.db = db
	return s, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) connect() (*gorm.DB, error) {
	dsn := memoryPath
	if s.path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		dsn = fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)", s.path)
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:      logger.Default.LogMode(logger.Silent),
		PrepareStmt: s.path != memoryPath,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("db handle: %w", err)
	}
	if s.path == memoryPath {
		// every new connection would get its own empty database
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(2 * time.Hour)
	}

	if err := db.AutoMigrate(&Person{}, &Vision{}, &BotContent{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.WithContext(ctx)
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *Store) closeLocked() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Reopen closes the connection pool, runs fn (for example a restore that
// replaces the file) and connects again.
func (s *Store) Reopen(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.closeLocked(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}
	var fnErr error
	if fn != nil {
		fnErr = fn()
	}
	db, err := s.connect()
	if err != nil {
		return errors.Join(fnErr, err)
	}
	s.db = db
	return fnErr
}

func (s *Store) Vacuum(ctx context.Context) error {
	return s.conn(ctx).Exec("VACUUM").Error
}

// SnapshotTo writes a consistent copy of the live database to dst.
func (s *Store) SnapshotTo(ctx context.Context, dst string) error {
	return s.conn(ctx).Exec("VACUUM INTO ?", dst).Error
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.conn(ctx).DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// ==========================================
// ПОЛЬЗОВАТЕЛИ
// ==========================================

type Profile struct {
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
}

// RegisterOrTouch creates the person on first contact and refreshes the
// username afterwards. created reports whether a new row was inserted.
func (s *Store) RegisterOrTouch(ctx context.Context, p Profile) (person *Person, created bool, err error) {
	db := s.conn(ctx)
	fresh := Person{
		TelegramID: p.TelegramID,
		Username:   p.Username,
		FirstName:  p.FirstName,
		LastName:   p.LastName,
		Role:       RoleClient,
	}
	res := db.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "telegram_id"}}, DoNothing: true}).Create(&fresh)
	if res.Error != nil {
		return nil, false, fmt.Errorf("register person: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return &fresh, true, nil
	}

	existing, err := s.PersonByTelegramID(ctx, p.TelegramID)
	if err != nil {
		return nil, false, err
	}
	if p.Username != "" && p.Username != existing.Username {
		existing.Username = p.Username
		if err := db.Model(existing).Update("username", p.Username).Error; err != nil {
			return nil, false, fmt.Errorf("update username: %w", err)
		}
	}
	return existing, false, nil
}

func (s *Store) PersonByTelegramID(ctx context.Context, telegramID int64) (*Person, error) {
	var p Person
	err := s.conn(ctx).Where("telegram_id = ?", telegramID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load person: %w", err)
	}
	return &p, nil
}

// SetPhone stores a normalised phone number for the person. Foreign numbers
// shared through a contact are kept as plain digits.
func (s *Store) SetPhone(ctx context.Context, telegramID int64, raw string) (string, error) {
	phone := NormalizePhone(raw)
	if phone == "" {
		phone = digitsOnly(raw)
	}
	if len(phone) < 7 {
		return "", ErrBadPhone
	}
	person, err := s.PersonByTelegramID(ctx, telegramID)
	if err != nil {
		return "", err
	}

	var taken int64
	if err := s.conn(ctx).Model(&Person{}).Where("phone = ? AND id <> ?", phone, person.ID).Count(&taken).Error; err != nil {
		return "", fmt.Errorf("check phone: %w", err)
	}
	if taken > 0 {
		return "", ErrPhoneTaken
	}
	if err := s.conn(ctx).Model(person).Update("phone", phone).Error; err != nil {
		return "", fmt.Errorf("save phone: %w", err)
	}
	return phone, nil
}

func (s *Store) SetRole(ctx context.Context, telegramID int64, role string) error {
	res := s.conn(ctx).Model(&Person{}).Where("telegram_id = ?", telegramID).Update("role", role)
	if res.Error != nil {
		return fmt.Errorf("set role: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ProfileUpdate changes only the fields that are set.
type ProfileUpdate struct {
	FirstName *string
	LastName  *string
	Age       *int
}

func (s *Store) UpdateProfile(ctx context.Context, telegramID int64, u ProfileUpdate) error {
	fields := map[string]any{}
	if u.FirstName != nil {
		fields["first_name"] = *u.FirstName
	}
	if u.LastName != nil {
		fields["last_name"] = *u.LastName
	}
	if u.Age != nil {
		fields["age"] = *u.Age
	}
	if len(fields) == 0 {
		return nil
	}
	res := s.conn(ctx).Model(&Person{}).Where("telegram_id = ?", telegramID).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("update profile: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Role returns RoleClient for unknown users.
func (s *Store) Role(ctx context.Context, telegramID int64) (string, error) {
	var role string
	err := s.conn(ctx).Model(&Person{}).Select("role").Where("telegram_id = ?", telegramID).Limit(1).Scan(&role).Error
	if err != nil {
		return RoleClient, fmt.Errorf("load role: %w", err)
	}
	if role == "" {
		return RoleClient, nil
	}
	return role, nil
}

func (s *Store) ListByRole(ctx context.Context, role string) ([]Person, error) {
	var people []Person
	err := s.conn(ctx).Where("role = ?", role).Order("first_name, last_name").Find(&people).Error
	return people, err
}

// FindPerson resolves a telegram id or a phone number in any common format.
func (s *Store) FindPerson(ctx context.Context, query string) (*Person, error) {
	query = strings.TrimSpace(query)
	if id, err := strconv.ParseInt(query, 10, 64); err == nil {
		p, err := s.PersonByTelegramID(ctx, id)
		if err == nil || !errors.Is(err, ErrNotFound) {
			return p, err
		}
	}
	phone := NormalizePhone(query)
	if phone == "" {
		phone = digitsOnly(query)
	}
	if phone == "" {
		return nil, ErrNotFound
	}
	var p Person
	err := s.conn(ctx).Where("phone = ?", phone).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find by phone: %w", err)
	}
	return &p, nil
}

// Search matches telegram id, phone or a part of the name. At most 20 rows.
func (s *Store) Search(ctx context.Context, query string) ([]Person, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	db := s.conn(ctx).Model(&Person{})
	// sqlite folds case for ASCII only, so Cyrillic names are matched by
	// their common spellings
	cond := db.Where("1 = 0")
	for _, v := range caseVariants(query) {
		like := "%" + v + "%"
		cond = cond.Or("first_name LIKE ? OR last_name LIKE ? OR username LIKE ?", like, like, like)
	}
	if id, err := strconv.ParseInt(query, 10, 64); err == nil {
		cond = cond.Or("telegram_id = ?", id)
	}
	if phone := NormalizePhone(query); phone != "" {
		cond = cond.Or("phone = ?", phone)
	}
	var people []Person
	err := cond.Order("id").Limit(20).Find(&people).Error
	return people, err
}

func caseVariants(q string) []string {
	lower := strings.ToLower(q)
	variants := []string{q, lower}
	if r := []rune(lower); len(r) > 0 {
		variants = append(variants, strings.ToUpper(string(r[0]))+string(r[1:]))
	}
	return variants
}

// BroadcastRecipients returns every known chat id.
func (s *Store) BroadcastRecipients(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.conn(ctx).Model(&Person{}).Where("telegram_id <> 0").Order("id").Pluck("telegram_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("load recipients: %w", err)
	}
	return ids, nil
}

type Counts struct {
	Persons   int64
	WithPhone int64
	Admins    int64
	Visions   int64
}

func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	db := s.conn(ctx)
	if err := db.Model(&Person{}).Count(&c.Persons).Error; err != nil {
		return c, err
	}
	if err := db.Model(&Person{}).Where("phone IS NOT NULL AND phone <> ''").Count(&c.WithPhone).Error; err != nil {
		return c, err
	}
	if err := db.Model(&Person{}).Where("role = ?", RoleAdmin).Count(&c.Admins).Error; err != nil {
		return c, err
	}
	if err := db.Model(&Vision{}).Count(&c.Visions).Error; err != nil {
		return c, err
	}
	return c, nil
}

// ==========================================
// ЗРЕНИЕ
// ==========================================

func (s *Store) AddVision(ctx context.Context, telegramID int64, v *Vision) error {
	person, err := s.PersonByTelegramID(ctx, telegramID)
	if err != nil {
		return err
	}
	v.PersonID = person.ID
	if v.VisitDate.IsZero() {
		v.VisitDate = time.Now()
	}
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(v).Error; err != nil {
			return fmt.Errorf("save vision: %w", err)
		}
		visit := v.VisitDate
		if person.LastVisitDate == nil || visit.After(*person.LastVisitDate) {
			if err := tx.Model(person).Update("last_visit_date", visit).Error; err != nil {
				return fmt.Errorf("update last visit: %w", err)
			}
		}
		return nil
	})
}

// Visions returns the latest records first.
func (s *Store) Visions(ctx context.Context, telegramID int64, limit int) ([]Vision, error) {
	person, err := s.PersonByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 5
	}
	var out []Vision
	err = s.conn(ctx).Where("person_id = ?", person.ID).Order("visit_date DESC, id DESC").Limit(limit).Find(&out).Error
	return out, err
}

func (s *Store) VisionByID(ctx context.Context, id uint) (*Vision, error) {
	var v Vision
	err := s.conn(ctx).First(&v, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load vision: %w", err)
	}
	return &v, nil
}

// UpdateVision writes every column of v, including cleared ones.
func (s *Store) UpdateVision(ctx context.Context, v *Vision) error {
	if v.ID == 0 {
		return ErrNotFound
	}
	if err := s.conn(ctx).Save(v).Error; err != nil {
		return fmt.Errorf("update vision: %w", err)
	}
	return nil
}

func (s *Store) DeleteVision(ctx context.Context, id uint) error {
	res := s.conn(ctx).Delete(&Vision{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete vision: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// OwnerOfVision returns the person a record belongs to.
func (s *Store) OwnerOfVision(ctx context.Context, v *Vision) (*Person, error) {
	var p Person
	err := s.conn(ctx).First(&p, v.PersonID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load person: %w", err)
	}
	return &p, nil
}

// ==========================================
// КОНТЕНТ
// ==========================================

func (s *Store) AllContent(ctx context.Context) (map[string]string, error) {
	var rows []BotContent
	if err := s.conn(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load content: %w", err)
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

func (s *Store) SetContent(ctx context.Context, key, value string) error {
	row := BotContent{Key: key, Value: value}
	return s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&row).Error
}

// SeedContent inserts sections that are missing and keeps edited ones.
func (s *Store) SeedContent(ctx context.Context, defaults map[string]string) (int, error) {
	added := 0
	db := s.conn(ctx)
	for key, value := range defaults {
		res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&BotContent{Key: key, Value: value})
		if res.Error != nil {
			return added, fmt.Errorf("seed %s: %w", key, res.Error)
		}
		added += int(res.RowsAffected)
	}
	return added, nil
}

// NormalizePhone accepts local (0XXXXXXXXX) and international (+996...) forms
// and returns 996XXXXXXXXX, or "" when the input is not a phone number.
func NormalizePhone(raw string) string {
	digits := digitsOnly(raw)
	switch {
	case len(digits) == 10 && strings.HasPrefix(digits, "0"):
		return "996" + digits[1:]
	case len(digits) == 12 && strings.HasPrefix(digits, "996"):
		return digits
	case len(digits) == 13 && strings.HasPrefix(digits, "996"):
		return digits[1:]
	}
	return ""
}

func digitsOnly(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
