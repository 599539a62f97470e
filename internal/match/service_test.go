package match

import (
	"context"
	"testing"
	"time"

	"lifeline.org/internal/donation"
	"lifeline.org/internal/geo"
)

func seed(t *testing.T) (*donation.InMemory, *Service) {
	t.Helper()
	store := donation.NewInMemory()
	return store, NewService(store)
}

func TestCandidateRequestsCompatibilityAndLabel(t *testing.T) {
	store, svc := seed(t)
	ctx := context.Background()

	donor := store.AddUser(&donation.User{Name: "D", IsDonor: true, BloodType: "O-", Location: "Lagos"})

	reqs := []*donation.Request{
		{RequesterID: "r1", BloodType: "A+", Location: "Lagos", Urgency: donation.UrgencyHigh},
		{RequesterID: "r2", BloodType: "B-", Location: "Abuja", Urgency: donation.UrgencyCritical}, // wrong label, no coords
		{RequesterID: "r3", BloodType: "AB+", Location: "lagos", Urgency: donation.UrgencyLow},     // label match is case-insensitive
	}
	for _, r := range reqs {
		if err := store.Requests().Create(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	got, err := svc.FindCandidateRequests(ctx, donor)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	// urgency descending
	if got[0].Request.BloodType != "A+" || got[1].Request.BloodType != "AB+" {
		t.Fatalf("unexpected order: %s then %s", got[0].Request.BloodType, got[1].Request.BloodType)
	}
}

func TestCandidateRequestsRecencyWithinUrgency(t *testing.T) {
	store, svc := seed(t)
	ctx := context.Background()
	donor := store.AddUser(&donation.User{IsDonor: true, BloodType: "O-", Location: "Lagos"})

	old := &donation.Request{RequesterID: "r1", BloodType: "A+", Location: "Lagos",
		Urgency: donation.UrgencyHigh, CreatedAt: time.Now().Add(-time.Hour)}
	fresh := &donation.Request{RequesterID: "r2", BloodType: "B+", Location: "Lagos",
		Urgency: donation.UrgencyHigh, CreatedAt: time.Now()}
	for _, r := range []*donation.Request{old, fresh} {
		if err := store.Requests().Create(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	got, err := svc.FindCandidateRequests(ctx, donor)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Request.ID != fresh.ID {
		t.Fatalf("most recent request should come first")
	}
}

func TestCandidateRequestsProximityRadius(t *testing.T) {
	store, svc := seed(t)
	ctx := context.Background()
	donor := store.AddUser(&donation.User{IsDonor: true, BloodType: "O-",
		Position: &geo.Point{Lat: 6.5244, Lon: 3.3792}}) // Lagos

	near := &donation.Request{RequesterID: "r1", BloodType: "A+",
		Position: &geo.Point{Lat: 6.4541, Lon: 3.3947}} // Lagos Island, a few km
	far := &donation.Request{RequesterID: "r2", BloodType: "A+",
		Position: &geo.Point{Lat: 9.0765, Lon: 7.3986}} // Abuja, ~500 km
	unlocated := &donation.Request{RequesterID: "r3", BloodType: "A+",
		Position: &geo.Point{Lat: 0, Lon: 0}} // bogus origin pair
	for _, r := range []*donation.Request{near, far, unlocated} {
		if err := store.Requests().Create(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	got, err := svc.FindCandidateRequests(ctx, donor)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Request.ID != near.ID {
		t.Fatalf("expected only the nearby request, got %d candidates", len(got))
	}
	if got[0].Travel == nil {
		t.Fatal("nearby candidate should carry a travel classification")
	}
}

func TestDonorNeverSeesOwnRequest(t *testing.T) {
	store, svc := seed(t)
	ctx := context.Background()
	donor := store.AddUser(&donation.User{IsDonor: true, BloodType: "O-", Location: "Lagos"})

	own := &donation.Request{RequesterID: donor.ID, BloodType: "A+", Location: "Lagos"}
	if err := store.Requests().Create(ctx, own); err != nil {
		t.Fatal(err)
	}
	got, err := svc.FindCandidateRequests(ctx, donor)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatal("donor must not see their own request")
	}
}

func TestCandidateDonorsOrderingAndFulfilled(t *testing.T) {
	store, svc := seed(t)
	ctx := context.Background()

	reqPos := &geo.Point{Lat: 6.5244, Lon: 3.3792}
	nearDonor := store.AddUser(&donation.User{Name: "near", IsDonor: true, BloodType: "O-",
		Position: &geo.Point{Lat: 6.4541, Lon: 3.3947}})
	farDonor := store.AddUser(&donation.User{Name: "far", IsDonor: true, BloodType: "O+",
		Position: &geo.Point{Lat: 6.6018, Lon: 3.3515}})
	labelDonor := store.AddUser(&donation.User{Name: "label", IsDonor: true, BloodType: "A-", Location: "Lagos"})
	store.AddUser(&donation.User{Name: "incompatible", IsDonor: true, BloodType: "AB+", Location: "Lagos"})
	store.AddUser(&donation.User{Name: "not-a-donor", IsDonor: false, BloodType: "O-", Location: "Lagos"})

	req := &donation.Request{RequesterID: "r1", BloodType: "A+", Location: "Lagos", Position: reqPos}
	if err := store.Requests().Create(ctx, req); err != nil {
		t.Fatal(err)
	}

	got, err := svc.FindCandidateDonors(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 donor candidates, got %d", len(got))
	}
	if got[0].Donor.ID != nearDonor.ID || got[1].Donor.ID != farDonor.ID || got[2].Donor.ID != labelDonor.ID {
		t.Fatalf("unexpected donor order: %s, %s, %s", got[0].Donor.Name, got[1].Donor.Name, got[2].Donor.Name)
	}

	req.Fulfilled = true
	got, err = svc.FindCandidateDonors(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatal("fulfilled request must yield no donor candidates")
	}
}
