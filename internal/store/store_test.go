package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(memoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRegisterOrTouch(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	p, created, err := s.RegisterOrTouch(ctx, Profile{TelegramID: 42, Username: "anna", FirstName: "Анна"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, RoleClient, p.Role)

	p, created, err = s.RegisterOrTouch(ctx, Profile{TelegramID: 42, Username: "anna_new"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "anna_new", p.Username)
	assert.Equal(t, "Анна", p.FullName())

	c, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Persons)
}

func TestSetPhone(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	_, _, err := s.RegisterOrTouch(ctx, Profile{TelegramID: 1})
	require.NoError(t, err)
	_, _, err = s.RegisterOrTouch(ctx, Profile{TelegramID: 2})
	require.NoError(t, err)

	phone, err := s.SetPhone(ctx, 1, "+996 555 12-34-56")
	require.NoError(t, err)
	assert.Equal(t, "996555123456", phone)

	_, err = s.SetPhone(ctx, 2, "0555123456")
	require.ErrorIs(t, err, ErrPhoneTaken)

	_, err = s.SetPhone(ctx, 2, "12")
	require.ErrorIs(t, err, ErrBadPhone)

	_, err = s.SetPhone(ctx, 3, "0555000000")
	require.ErrorIs(t, err, ErrNotFound)

	found, err := s.FindPerson(ctx, "0555 123 456")
	require.NoError(t, err)
	assert.Equal(t, int64(1), found.TelegramID)
}

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"0555123456":       "996555123456",
		"+996 555 123 456": "996555123456",
		"996-555-123-456":  "996555123456",
		"hello":            "",
		"+7 900 000 00 00": "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizePhone(in), in)
	}
}

func TestRolesAndRecipients(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	for _, id := range []int64{10, 20, 30} {
		_, _, err := s.RegisterOrTouch(ctx, Profile{TelegramID: id})
		require.NoError(t, err)
	}

	require.NoError(t, s.SetRole(ctx, 20, RoleAdmin))
	require.ErrorIs(t, s.SetRole(ctx, 99, RoleAdmin), ErrNotFound)

	role, err := s.Role(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, role)

	role, err = s.Role(ctx, 99)
	require.NoError(t, err)
	assert.Equal(t, RoleClient, role)

	admins, err := s.ListByRole(ctx, RoleAdmin)
	require.NoError(t, err)
	require.Len(t, admins, 1)
	assert.Equal(t, int64(20), admins[0].TelegramID)

	ids, err := s.BroadcastRecipients(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 20, 30}, ids)
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	_, _, err := s.RegisterOrTouch(ctx, Profile{TelegramID: 5, FirstName: "Айгуль", LastName: "Садыкова"})
	require.NoError(t, err)
	_, _, err = s.RegisterOrTouch(ctx, Profile{TelegramID: 6, FirstName: "Bakyt", Username: "bakyt_kg"})
	require.NoError(t, err)

	got, err := s.Search(ctx, "bakyt")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(6), got[0].TelegramID)

	got, err = s.Search(ctx, "айгуль")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Садыкова", got[0].LastName)

	got, err = s.Search(ctx, "5")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(5), got[0].TelegramID)
}

func TestVisions(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	_, _, err := s.RegisterOrTouch(ctx, Profile{TelegramID: 7})
	require.NoError(t, err)

	sph := -1.25
	older := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.AddVision(ctx, 7, &Vision{VisitDate: newer, SphR: &sph, LensType: "single"}))
	require.NoError(t, s.AddVision(ctx, 7, &Vision{VisitDate: older, Note: "first"}))
	require.ErrorIs(t, s.AddVision(ctx, 8, &Vision{}), ErrNotFound)

	list, err := s.Visions(ctx, 7, 5)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "single", list[0].LensType)
	assert.InDelta(t, -1.25, *list[0].SphR, 0.001)

	p, err := s.PersonByTelegramID(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, p.LastVisitDate)
	assert.True(t, p.LastVisitDate.Equal(newer))

	c, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.Visions)
}

func TestVisionEditAndDelete(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	_, _, err := s.RegisterOrTouch(ctx, Profile{TelegramID: 7, FirstName: "Азамат"})
	require.NoError(t, err)

	sph := -2.0
	v := &Vision{SphR: &sph, Note: "old"}
	require.NoError(t, s.AddVision(ctx, 7, v))

	got, err := s.VisionByID(ctx, v.ID)
	require.NoError(t, err)
	got.SphR = nil
	got.Note = "new"
	require.NoError(t, s.UpdateVision(ctx, got))

	got, err = s.VisionByID(ctx, v.ID)
	require.NoError(t, err)
	assert.Nil(t, got.SphR)
	assert.Equal(t, "new", got.Note)

	owner, err := s.OwnerOfVision(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, int64(7), owner.TelegramID)

	require.NoError(t, s.DeleteVision(ctx, v.ID))
	require.ErrorIs(t, s.DeleteVision(ctx, v.ID), ErrNotFound)
	_, err = s.VisionByID(ctx, v.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateProfile(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	_, _, err := s.RegisterOrTouch(ctx, Profile{TelegramID: 7, FirstName: "Азамат", LastName: "Old"})
	require.NoError(t, err)

	first, age := "Айбек", 34
	require.NoError(t, s.UpdateProfile(ctx, 7, ProfileUpdate{FirstName: &first, Age: &age}))
	p, err := s.PersonByTelegramID(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "Айбек", p.FirstName)
	assert.Equal(t, "Old", p.LastName)
	require.NotNil(t, p.Age)
	assert.Equal(t, 34, *p.Age)

	require.ErrorIs(t, s.UpdateProfile(ctx, 8, ProfileUpdate{FirstName: &first}), ErrNotFound)
}

func TestContentSeedAndEdit(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	content := NewContent(s, DefaultSections())

	n, err := content.Seed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Contains(t, content.Get(ctx, "faq"), "Поддержка и FAQ")

	require.NoError(t, content.Set(ctx, "faq", "новый текст"))
	assert.Equal(t, "новый текст", content.Get(ctx, "faq"))

	n, err = content.Seed(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, "новый текст", content.Get(ctx, "faq"))

	require.ErrorIs(t, content.Set(ctx, "unknown", "x"), ErrNotFound)
	assert.Equal(t, contentFallback, content.Get(ctx, "unknown"))

	title, ok := content.Title("catalog")
	require.True(t, ok)
	assert.Equal(t, "🕶 Каталог оправ", title)
}

func TestParseSectionsRejectsDuplicates(t *testing.T) {
	_, err := ParseSections([]byte("sections:\n  - key: a\n  - key: a\n"))
	require.Error(t, err)
}

func TestSnapshotAndReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "db", "database.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, _, err = s.RegisterOrTouch(ctx, Profile{TelegramID: 1})
	require.NoError(t, err)

	snap := filepath.Join(dir, "snap.db")
	require.NoError(t, s.SnapshotTo(ctx, snap))
	_, err = os.Stat(snap)
	require.NoError(t, err)

	_, _, err = s.RegisterOrTouch(ctx, Profile{TelegramID: 2})
	require.NoError(t, err)

	err = s.Reopen(func() error {
		for _, suffix := range []string{"-wal", "-shm"} {
			_ = os.Remove(path + suffix)
		}
		data, err := os.ReadFile(snap)
		if err != nil {
			return err
		}
		return os.WriteFile(path, data, 0644)
	})
	require.NoError(t, err)

	c, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Persons)
}
