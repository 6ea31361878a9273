package access

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"supplychain-tracker-go/internal/apperr"
	"supplychain-tracker-go/internal/database"
	"supplychain-tracker-go/internal/models"

	"github.com/golang-jwt/jwt/v5"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-secret"

func setupTestGate(t *testing.T) (*Gate, *database.Service) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	service := database.NewServiceWithDB(db)
	if err := service.InitSchema(context.Background()); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}

	tokens, err := NewTokenIssuer(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("Failed to create token issuer: %v", err)
	}
	return NewGate(service, tokens, bcrypt.MinCost), service
}

func registerUser(t *testing.T, gate *Gate, name string, role models.Role, wallet string) *models.User {
	t.Helper()
	user, _, err := gate.Register(context.Background(), RegisterParams{
		Name:          name,
		Email:         name + "@example.com",
		Password:      "password123",
		WalletAddress: wallet,
		Role:          role,
	})
	if err != nil {
		t.Fatalf("Failed to register %s: %v", name, err)
	}
	return user
}

func expectKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("Expected %s error, got nil", kind)
	}
	if got := apperr.KindOf(err); got != kind {
		t.Fatalf("Expected %s error, got %s (%v)", kind, got, err)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	issuer, err := NewTokenIssuer(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer failed: %v", err)
	}

	token, err := issuer.Issue(&models.User{Id: "user-1", Role: models.RoleRetailer})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	claims, err := issuer.Parse(token)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if claims.UserId != "user-1" {
		t.Errorf("Expected user id user-1, got %s", claims.UserId)
	}
	if claims.Role != models.RoleRetailer {
		t.Errorf("Expected role retailer, got %s", claims.Role)
	}
}

func TestTokenRejectsTampering(t *testing.T) {
	issuer, _ := NewTokenIssuer(testSecret, time.Hour)
	other, _ := NewTokenIssuer("another-secret", time.Hour)

	token, err := other.Issue(&models.User{Id: "user-1", Role: models.RoleRetailer})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := issuer.Parse(token); err == nil {
		t.Error("Expected token signed with another secret to be rejected")
	}
	if _, err := issuer.Parse(token + "x"); err == nil {
		t.Error("Expected modified token to be rejected")
	}
}

func TestTokenRejectsWrongSigningMethod(t *testing.T) {
	issuer, _ := NewTokenIssuer(testSecret, time.Hour)

	claims := Claims{UserId: "user-1", Role: models.RoleManufacturer}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("Failed to sign unsigned token: %v", err)
	}
	if _, err := issuer.Parse(token); err == nil {
		t.Error("Expected unsigned token to be rejected")
	}
}

func TestTokenExpires(t *testing.T) {
	issuer, _ := NewTokenIssuer(testSecret, time.Minute)
	issuer.now = func() time.Time { return time.Now().Add(-2 * time.Minute) }

	token, err := issuer.Issue(&models.User{Id: "user-1", Role: models.RoleRetailer})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	issuer.now = time.Now
	if _, err := issuer.Parse(token); err == nil {
		t.Error("Expected expired token to be rejected")
	}
}

func TestRegisterValidation(t *testing.T) {
	gate, _ := setupTestGate(t)
	valid := RegisterParams{
		Name:          "alice",
		Email:         "alice@example.com",
		Password:      "password123",
		WalletAddress: "0x00000000000000000000000000000000000000aa",
		Role:          models.RoleManufacturer,
	}

	tests := []struct {
		name   string
		mutate func(p *RegisterParams)
	}{
		{"missing name", func(p *RegisterParams) { p.Name = " " }},
		{"bad email", func(p *RegisterParams) { p.Email = "alice" }},
		{"short password", func(p *RegisterParams) { p.Password = "abc" }},
		{"bad wallet", func(p *RegisterParams) { p.WalletAddress = "0x123" }},
		{"bad role", func(p *RegisterParams) { p.Role = "customer" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := valid
			tt.mutate(&params)
			_, _, err := gate.Register(context.Background(), params)
			expectKind(t, err, apperr.KindValidation)
		})
	}
}

func TestRegisterLoginAuthenticate(t *testing.T) {
	gate, _ := setupTestGate(t)
	ctx := context.Background()

	user, token, err := gate.Register(ctx, RegisterParams{
		Name:          "alice",
		Email:         "Alice@Example.com",
		Password:      "password123",
		WalletAddress: "0x00000000000000000000000000000000000000AA",
		Role:          models.RoleManufacturer,
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if user.WalletAddress != "0x00000000000000000000000000000000000000aa" {
		t.Errorf("Expected lowercased wallet, got %s", user.WalletAddress)
	}

	authed, err := gate.Authenticate(ctx, token)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if authed.Id != user.Id {
		t.Errorf("Expected user %s, got %s", user.Id, authed.Id)
	}

	if _, _, err := gate.Login(ctx, "alice@example.com", "password123"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	_, _, err = gate.Login(ctx, "alice@example.com", "wrong-password")
	expectKind(t, err, apperr.KindAuthentication)
	_, _, err = gate.Login(ctx, "nobody@example.com", "password123")
	expectKind(t, err, apperr.KindAuthentication)

	_, err = gate.Authenticate(ctx, "")
	expectKind(t, err, apperr.KindAuthentication)
	_, err = gate.Authenticate(ctx, "not-a-token")
	expectKind(t, err, apperr.KindAuthentication)
}

func TestRegisterDuplicates(t *testing.T) {
	gate, _ := setupTestGate(t)
	ctx := context.Background()
	registerUser(t, gate, "alice", models.RoleManufacturer, "0x00000000000000000000000000000000000000aa")

	_, _, err := gate.Register(ctx, RegisterParams{
		Name:          "alice2",
		Email:         "alice@example.com",
		Password:      "password123",
		WalletAddress: "0x00000000000000000000000000000000000000bb",
		Role:          models.RoleRetailer,
	})
	expectKind(t, err, apperr.KindConflict)

	_, _, err = gate.Register(ctx, RegisterParams{
		Name:          "bob",
		Email:         "bob@example.com",
		Password:      "password123",
		WalletAddress: "0x00000000000000000000000000000000000000AA",
		Role:          models.RoleRetailer,
	})
	expectKind(t, err, apperr.KindConflict)
}

func TestRequireRole(t *testing.T) {
	retailer := &models.User{Id: "r", Role: models.RoleRetailer}

	if err := RequireRole(retailer, models.RoleRetailer, models.RoleWarehouse); err != nil {
		t.Errorf("Expected retailer to pass, got %v", err)
	}
	expectKind(t, RequireRole(retailer, models.RoleManufacturer), apperr.KindAuthorization)
	expectKind(t, RequireRole(nil, models.RoleManufacturer), apperr.KindAuthentication)
}

func TestCheckTransferPartnership(t *testing.T) {
	gate, _ := setupTestGate(t)
	ctx := context.Background()
	manufacturer := registerUser(t, gate, "maker", models.RoleManufacturer, "0x00000000000000000000000000000000000000aa")
	retailer := registerUser(t, gate, "shop", models.RoleRetailer, "0x00000000000000000000000000000000000000bb")

	_, err := gate.CheckTransferPartnership(ctx, manufacturer, "0x00000000000000000000000000000000000000cc")
	expectKind(t, err, apperr.KindAuthorization)

	_, err = gate.CheckTransferPartnership(ctx, manufacturer, retailer.WalletAddress)
	expectKind(t, err, apperr.KindAuthorization)

	partnership, err := gate.RequestPartnership(ctx, retailer, manufacturer.Id)
	if err != nil {
		t.Fatalf("RequestPartnership failed: %v", err)
	}
	if _, err := gate.RespondToPartnership(ctx, manufacturer, partnership.Id, models.PartnershipAccepted); err != nil {
		t.Fatalf("RespondToPartnership failed: %v", err)
	}

	recipient, err := gate.CheckTransferPartnership(ctx, manufacturer, "0x00000000000000000000000000000000000000BB")
	if err != nil {
		t.Fatalf("Expected accepted partnership in reverse direction to pass, got %v", err)
	}
	if recipient.Id != retailer.Id {
		t.Errorf("Expected recipient %s, got %s", retailer.Id, recipient.Id)
	}
}

func TestPartnershipLifecycle(t *testing.T) {
	gate, _ := setupTestGate(t)
	ctx := context.Background()
	alice := registerUser(t, gate, "alice", models.RoleManufacturer, "0x00000000000000000000000000000000000000aa")
	bob := registerUser(t, gate, "bob", models.RoleDistributor, "0x00000000000000000000000000000000000000bb")

	_, err := gate.RequestPartnership(ctx, alice, alice.Id)
	expectKind(t, err, apperr.KindValidation)

	_, err = gate.RequestPartnership(ctx, alice, "missing")
	expectKind(t, err, apperr.KindNotFound)

	partnership, err := gate.RequestPartnership(ctx, alice, bob.Id)
	if err != nil {
		t.Fatalf("RequestPartnership failed: %v", err)
	}
	if partnership.Status != models.PartnershipPending {
		t.Errorf("Expected pending, got %s", partnership.Status)
	}
	if partnership.Receiver == nil || partnership.Receiver.Id != bob.Id {
		t.Errorf("Expected receiver summary for bob, got %+v", partnership.Receiver)
	}

	_, err = gate.RequestPartnership(ctx, bob, alice.Id)
	expectKind(t, err, apperr.KindConflict)

	pending, err := gate.PendingPartnerships(ctx, bob)
	if err != nil {
		t.Fatalf("PendingPartnerships failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("Expected 1 pending request, got %d", len(pending))
	}
	if pending[0].Sender == nil || pending[0].Sender.Id != alice.Id {
		t.Errorf("Expected sender summary for alice, got %+v", pending[0].Sender)
	}

	_, err = gate.RespondToPartnership(ctx, alice, partnership.Id, models.PartnershipAccepted)
	expectKind(t, err, apperr.KindAuthorization)

	_, err = gate.RespondToPartnership(ctx, bob, partnership.Id, "maybe")
	expectKind(t, err, apperr.KindValidation)

	accepted, err := gate.RespondToPartnership(ctx, bob, partnership.Id, models.PartnershipAccepted)
	if err != nil {
		t.Fatalf("RespondToPartnership failed: %v", err)
	}
	if accepted.Status != models.PartnershipAccepted {
		t.Errorf("Expected accepted, got %s", accepted.Status)
	}

	_, err = gate.RespondToPartnership(ctx, bob, partnership.Id, models.PartnershipRejected)
	expectKind(t, err, apperr.KindValidation)

	list, err := gate.ListPartnerships(ctx, alice)
	if err != nil {
		t.Fatalf("ListPartnerships failed: %v", err)
	}
	if len(list) != 1 || list[0].Status != models.PartnershipAccepted {
		t.Errorf("Expected one accepted partnership, got %+v", list)
	}
}

func TestQRAccessApprovalGrantsBatchVisibility(t *testing.T) {
	gate, service := setupTestGate(t)
	ctx := context.Background()
	manufacturer := registerUser(t, gate, "maker", models.RoleManufacturer, "0x00000000000000000000000000000000000000aa")
	retailer := registerUser(t, gate, "shop", models.RoleRetailer, "0x00000000000000000000000000000000000000bb")
	distributor := registerUser(t, gate, "truck", models.RoleDistributor, "0x00000000000000000000000000000000000000cc")

	batch := &models.Batch{
		BatchId:                 7,
		ManufacturerId:          manufacturer.Id,
		ManufacturerBatchNumber: 1,
		NftTokenId:              1,
	}
	if err := service.InsertBatch(ctx, batch); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}
	for i := int64(1); i <= 2; i++ {
		product := &models.Product{
			BlockchainId:         i,
			Name:                 "Widget",
			ManufacturerId:       manufacturer.Id,
			BatchId:              batch.Id,
			BatchBlockchainId:    batch.BatchId,
			ProductNumberInBatch: int(i),
			ManufactureDate:      time.Now(),
			RequiresPartnership:  true,
			CurrentHolderId:      manufacturer.Id,
		}
		if err := service.InsertProduct(ctx, product); err != nil {
			t.Fatalf("InsertProduct failed: %v", err)
		}
	}

	_, err := gate.RequestQRAccess(ctx, distributor, 7, manufacturer.Id)
	expectKind(t, err, apperr.KindAuthorization)

	_, err = gate.RequestQRAccess(ctx, retailer, 7, distributor.Id)
	expectKind(t, err, apperr.KindNotFound)

	request, err := gate.RequestQRAccess(ctx, retailer, 7, manufacturer.Id)
	if err != nil {
		t.Fatalf("RequestQRAccess failed: %v", err)
	}

	_, err = gate.RequestQRAccess(ctx, retailer, 7, manufacturer.Id)
	expectKind(t, err, apperr.KindConflict)

	_, err = gate.RespondToQRAccess(ctx, distributor, request.Id, models.QRAccessApproved)
	expectKind(t, err, apperr.KindAuthorization)

	approved, err := gate.RespondToQRAccess(ctx, manufacturer, request.Id, models.QRAccessApproved)
	if err != nil {
		t.Fatalf("RespondToQRAccess failed: %v", err)
	}
	if approved.Status != models.QRAccessApproved {
		t.Errorf("Expected approved, got %s", approved.Status)
	}

	for i := int64(1); i <= 2; i++ {
		product, err := service.GetProductByBlockchainId(ctx, i)
		if err != nil {
			t.Fatalf("GetProductByBlockchainId failed: %v", err)
		}
		if !CanViewQR(retailer, product) {
			t.Errorf("Expected retailer to see QR of product %d", i)
		}
		if CanViewQR(distributor, product) {
			t.Errorf("Expected distributor not to see QR of product %d", i)
		}
	}

	_, err = gate.RespondToQRAccess(ctx, manufacturer, request.Id, models.QRAccessRejected)
	expectKind(t, err, apperr.KindValidation)

	mine, err := gate.ListQRAccessRequests(ctx, manufacturer)
	if err != nil {
		t.Fatalf("ListQRAccessRequests failed: %v", err)
	}
	if len(mine) != 1 || mine[0].Retailer == nil || mine[0].Retailer.Id != retailer.Id {
		t.Errorf("Expected one request from retailer, got %+v", mine)
	}
	theirs, err := gate.ListQRAccessRequests(ctx, retailer)
	if err != nil {
		t.Fatalf("ListQRAccessRequests failed: %v", err)
	}
	if len(theirs) != 1 {
		t.Errorf("Expected 1 request for retailer, got %d", len(theirs))
	}
}

func TestCanViewQR(t *testing.T) {
	owner := &models.User{Id: "m"}
	other := &models.User{Id: "r"}

	product := &models.Product{ManufacturerId: "m", QrAccessGrantedTo: []string{"r"}}
	if !CanViewQR(owner, product) {
		t.Error("Expected manufacturer to view own QR")
	}
	if CanViewQR(other, product) {
		t.Error("Expected grant to be ignored while qrVisible is false")
	}
	product.QrVisible = true
	if !CanViewQR(other, product) {
		t.Error("Expected granted user to view QR")
	}
}
