package billing

import (
	"encoding/json"
	"time"

	"github.com/attico-hq/attico/internal/money"
)

// SnapshotVersion is the shape written by the current engine. Version 1
// is the legacy shape produced before snapshots were typed; quotas older
// than that carry no snapshot at all and are reconstructed from ledger
// data at read time.
const SnapshotVersion = 2

// legacySnapshot mirrors the shape stored by engine versions before the
// typed record existed.
type legacySnapshot struct {
	Origin  string `json:"origine"`
	Amounts struct {
		PureShare      money.Cents `json:"quota_pura_gestione"`
		AppliedBalance money.Cents `json:"saldo_usato"`
		Total          money.Cents `json:"totale_calcolato"`
	} `json:"importi"`
	Params struct {
		DistributionMethod string `json:"metodo_distribuzione"`
		Sequence           int    `json:"numero_rata"`
		TotalInstallments  int    `json:"totale_rate_piano"`
	} `json:"parametri"`
	Audit struct {
		EngineVersion string `json:"versione_calcolo"`
		GeneratedAt   string `json:"generato_il"`
		Actor         string `json:"generato_da"`
	} `json:"audit"`
}

var legacyOrigins = map[string]SnapshotOrigin{
	"calcolo_automatico":  OriginAutomatic,
	"inserimento_manuale": OriginManual,
	"rettifica":           OriginAdjustment,
	"storno":              OriginReversal,
}

var legacyMethods = map[string]DistributionMethod{
	"prima_rata": DistributeFirstInstallment,
	"tutte_rate": DistributeAllInstallments,
}

// DecodeSnapshot parses a stored snapshot payload, tolerating the legacy
// shape. A nil or empty payload returns (nil, nil): the quota predates
// snapshots and the caller must reconstruct components from ledger data.
func DecodeSnapshot(raw []byte) (*CalculationSnapshot, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var probe struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, err
	}

	if probe.Version >= SnapshotVersion {
		var snap CalculationSnapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			return nil, err
		}
		return &snap, nil
	}

	var old legacySnapshot
	if err := json.Unmarshal(raw, &old); err != nil {
		return nil, err
	}
	snap := &CalculationSnapshot{
		Version: 1,
		Origin:  legacyOrigins[old.Origin],
		Amounts: SnapshotAmounts{
			PureShare:      old.Amounts.PureShare,
			AppliedBalance: old.Amounts.AppliedBalance,
			Total:          old.Amounts.Total,
		},
		Params: SnapshotParams{
			DistributionMethod: legacyMethods[old.Params.DistributionMethod],
			Sequence:           old.Params.Sequence,
			TotalInstallments:  old.Params.TotalInstallments,
		},
	}
	if snap.Origin == "" {
		snap.Origin = OriginAutomatic
	}
	snap.Audit.EngineVersion = old.Audit.EngineVersion
	snap.Audit.Actor = old.Audit.Actor
	if ts, err := time.Parse(time.RFC3339, old.Audit.GeneratedAt); err == nil {
		snap.Audit.GeneratedAt = ts
	}
	return snap, nil
}

// EncodeSnapshot serialises a snapshot for storage.
func EncodeSnapshot(snap CalculationSnapshot) ([]byte, error) {
	return json.Marshal(snap)
}

// ReconstructComponents rebuilds the balance/expense decomposition for a
// quota written before snapshots existed. The balance is applied once per
// installment group, to the quota matching the group's designated first
// row by original ordering.
func ReconstructComponents(
	residual money.Cents,
	isFirstOfGroup bool,
	method DistributionMethod,
	sequence, totalInstallments int,
	initialBalance money.Cents,
) (balanceComponent, expenseComponent money.Cents) {
	if isFirstOfGroup {
		switch method {
		case DistributeFirstInstallment:
			if sequence == 1 {
				balanceComponent = initialBalance
			}
		case DistributeAllInstallments:
			if totalInstallments > 0 {
				balanceComponent = initialBalance / money.Cents(totalInstallments)
			}
		}
	}
	expenseComponent = residual - balanceComponent
	return balanceComponent, expenseComponent
}
