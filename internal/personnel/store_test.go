// internal/personnel/store_test.go
//
// Unit-tests for the personnel statements using sqlmock.
//
// Run: go test ./internal/personnel -v

package personnel

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/yanizio/gatekey/internal/site"
)

func testSchema() Schema {
	return Schema{
		Table:          "PERSONNEL",
		PersonIDColumn: "PERS_ID",
		KeyColumn:      "KLUCH2",
		Identifiers:    map[string]string{"uuid": "GPWP", "tabelnomer": "TABELNOMER"},
	}
}

func mockConn(t *testing.T, driver string, casing site.Casing) (site.Conn, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return site.Conn{
		Site: site.Config{ID: "main", Casing: casing},
		DB:   sqlx.NewDb(db, driver),
	}, mock
}

func TestNewStoreRejectsUnsafeNames(t *testing.T) {
	s := testSchema()
	s.KeyColumn = "KLUCH2; DROP TABLE PERSONNEL"
	if _, err := NewStore(s); !errors.Is(err, ErrBadIdent) {
		t.Fatalf("err = %v, want ErrBadIdent", err)
	}

	s = testSchema()
	s.Identifiers = map[string]string{"uuid": "GPWP--"}
	if _, err := NewStore(s); !errors.Is(err, ErrBadIdent) {
		t.Fatalf("err = %v, want ErrBadIdent", err)
	}

	s = testSchema()
	s.Identifiers = nil
	if _, err := NewStore(s); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("err = %v, want ErrUnknownKind", err)
	}
}

func TestFind(t *testing.T) {
	st, err := NewStore(testSchema())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	c, mock := mockConn(t, "firebirdsql", site.CasingPreserve)

	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT PERS_ID, GPWP, KLUCH2 FROM PERSONNEL WHERE GPWP = ?`,
	)).
		WithArgs("3f2a-77").
		WillReturnRows(sqlmock.NewRows([]string{"PERS_ID", "GPWP", "KLUCH2"}).
			AddRow(int64(1207), "3f2a-77", []byte("0000000000C9  ")))

	rec, found, err := st.Find(context.Background(), c, "uuid", "3f2a-77")
	if err != nil {
		t.Fatalf("Find error: %v", err)
	}
	if !found {
		t.Fatal("expected a record")
	}
	want := Record{PersonID: "1207", Identifier: "3f2a-77", CurrentKey: "0000000000C9"}
	if rec != want {
		t.Fatalf("record = %#v, want %#v", rec, want)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestFindNoRow(t *testing.T) {
	st, _ := NewStore(testSchema())
	c, mock := mockConn(t, "firebirdsql", site.CasingPreserve)

	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT PERS_ID, TABELNOMER, KLUCH2 FROM PERSONNEL WHERE TABELNOMER = ?`,
	)).
		WithArgs("00412").
		WillReturnRows(sqlmock.NewRows([]string{"PERS_ID", "TABELNOMER", "KLUCH2"}))

	_, found, err := st.Find(context.Background(), c, "tabelnomer", "00412")
	if err != nil {
		t.Fatalf("Find error: %v", err)
	}
	if found {
		t.Fatal("expected no record")
	}
}

func TestFindLowerCasedColumns(t *testing.T) {
	st, _ := NewStore(testSchema())
	c, mock := mockConn(t, "firebirdsql", site.CasingLower)

	// Driver reports mixed-case names; the policy folds both sides.
	mock.ExpectQuery(`SELECT PERS_ID, GPWP, KLUCH2 FROM PERSONNEL`).
		WillReturnRows(sqlmock.NewRows([]string{"Pers_Id", "gpwp", "Kluch2"}).
			AddRow("9", "tok", nil))

	rec, found, err := st.Find(context.Background(), c, "uuid", "tok")
	if err != nil || !found {
		t.Fatalf("Find = %v, %v", found, err)
	}
	if rec.PersonID != "9" || rec.Identifier != "tok" || rec.CurrentKey != "" {
		t.Fatalf("unexpected record: %#v", rec)
	}
}

func TestFindUnknownKind(t *testing.T) {
	st, _ := NewStore(testSchema())
	c, _ := mockConn(t, "firebirdsql", site.CasingPreserve)

	if _, _, err := st.Find(context.Background(), c, "email", "x"); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("err = %v, want ErrUnknownKind", err)
	}
}

func TestSetKeyRebindsForPostgres(t *testing.T) {
	st, _ := NewStore(testSchema())
	c, mock := mockConn(t, "pgx", site.CasingPreserve)

	mock.ExpectExec(regexp.QuoteMeta(
		`UPDATE PERSONNEL SET KLUCH2 = $1 WHERE GPWP = $2`,
	)).
		WithArgs("0000000007CE", "tok").
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := st.SetKey(context.Background(), c, "uuid", "tok", "0000000007CE")
	if err != nil {
		t.Fatalf("SetKey error: %v", err)
	}
	if n != 1 {
		t.Fatalf("rows = %d, want 1", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestClearKeyIf(t *testing.T) {
	st, _ := NewStore(testSchema())
	c, mock := mockConn(t, "firebirdsql", site.CasingPreserve)

	q := regexp.QuoteMeta(`UPDATE PERSONNEL SET KLUCH2 = '' WHERE GPWP = ? AND KLUCH2 = ?`)
	mock.ExpectExec(q).WithArgs("tok", "0000000000C9").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs("tok", "0000000000C9").WillReturnResult(sqlmock.NewResult(0, 0))

	for i, want := range []int64{1, 0} {
		n, err := st.ClearKeyIf(context.Background(), c, "uuid", "tok", "0000000000C9")
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if n != want {
			t.Fatalf("call %d: rows = %d, want %d", i, n, want)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestSetKeyPropagatesError(t *testing.T) {
	st, _ := NewStore(testSchema())
	c, mock := mockConn(t, "firebirdsql", site.CasingPreserve)

	lock := errors.New("lock conflict on no wait transaction")
	mock.ExpectExec(`UPDATE PERSONNEL`).WillReturnError(lock)

	if _, err := st.SetKey(context.Background(), c, "uuid", "tok", "X"); !errors.Is(err, lock) {
		t.Fatalf("err = %v, want lock conflict", err)
	}
}

func TestKinds(t *testing.T) {
	st, _ := NewStore(testSchema())
	got := st.Kinds()
	if len(got) != 2 || got[0] != "tabelnomer" || got[1] != "uuid" {
		t.Fatalf("Kinds = %v", got)
	}
}
