package billing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-klinik/internal/patient"
)

func TestRecomputeSumsBillsAndPayments(t *testing.T) {
	bills := []Bill{
		{PatientID: "p1", TotalAmount: d("100"), Status: BillPaid, Items: items("Consultation", "100")},
		{PatientID: "p1", TotalAmount: d("200"), Status: BillPending, Items: items("X-ray", "200", "consultation", "0")},
		{PatientID: "p1", TotalAmount: d("75"), Status: BillCancelled, Items: items("MRI", "75")},
		{PatientID: "p2", TotalAmount: d("999"), Status: BillPending},
	}
	payments := []Payment{
		{PatientID: "p1", Amount: d("100"), Status: PaymentCompleted},
		{PatientID: "p1", Amount: d("150"), Status: PaymentCompleted},
		{PatientID: "p1", Amount: d("40"), Status: PaymentRefunded},
		{PatientID: "p2", Amount: d("5"), Status: PaymentCompleted},
	}
	got := Recompute("p1", bills, payments)
	require.True(t, got.TotalCost.Equal(d("300")))
	require.True(t, got.PendingAmount.Equal(d("50")))
	require.Equal(t, []string{"Consultation", "X-ray"}, got.ServicesUsed)
}

func TestRecomputePendingNeverNegative(t *testing.T) {
	got := Recompute("p1",
		[]Bill{{PatientID: "p1", TotalAmount: d("100"), Status: BillPaid}},
		[]Payment{{PatientID: "p1", Amount: d("180"), Status: PaymentCompleted}},
	)
	require.True(t, got.PendingAmount.IsZero())
	require.True(t, got.TotalCost.Equal(d("100")))
}

func TestRecomputeIsIdempotent(t *testing.T) {
	bills := []Bill{{PatientID: "p1", TotalAmount: d("80"), Status: BillPending, Items: items("Lab", "80")}}
	payments := []Payment{{PatientID: "p1", Amount: d("30"), Status: PaymentCompleted}}
	first := Recompute("p1", bills, payments)
	second := Recompute("p1", bills, payments)
	require.Equal(t, first, second)

	p := first.Apply(patient.Patient{ID: "p1"})
	require.True(t, Recompute("p1", bills, payments).Matches(p))
}

func TestTotalsMatchesDetectsDrift(t *testing.T) {
	totals := Totals{TotalCost: d("100"), PendingAmount: d("20"), ServicesUsed: []string{"A"}}
	p := totals.Apply(patient.Patient{})
	require.True(t, totals.Matches(p))

	p.PendingAmount = d("25")
	require.False(t, totals.Matches(p))

	p = totals.Apply(patient.Patient{})
	p.ServicesUsed = []string{"B"}
	require.False(t, totals.Matches(p))
}
