package types

import (
	"github.com/shopspring/decimal"
)

// EnergyTrade is a single energy order or matched trade. Amount is in kWh and Price is
// the per-kWh price in GTX.
type EnergyTrade struct {
	Amount     decimal.Decimal `cbor:"1,keyasint"`
	Price      decimal.Decimal `cbor:"2,keyasint"`
	Source     EnergySource    `cbor:"3,keyasint"`
	Location   GridLocation    `cbor:"4,keyasint"`
	OrderType  OrderType       `cbor:"5,keyasint"`
	Quality    QualityMetrics  `cbor:"6,keyasint"`
	Compliance ComplianceData  `cbor:"7,keyasint"`
}

// TotalValue is Amount multiplied by Price.
func (t EnergyTrade) TotalValue() decimal.Decimal {
	return t.Amount.Mul(t.Price)
}

type EnergySource uint8

const (
	SourceSolar EnergySource = iota + 1
	SourceWind
	SourceHydro
	SourceBiomass
	SourceGeothermal
	SourceNaturalGas
	SourceCoal
	SourceNuclear
	SourceGridMix
	SourceBattery
)

func (s EnergySource) String() string {
	switch s {
	case SourceSolar:
		return "solar"
	case SourceWind:
		return "wind"
	case SourceHydro:
		return "hydro"
	case SourceBiomass:
		return "biomass"
	case SourceGeothermal:
		return "geothermal"
	case SourceNaturalGas:
		return "natural_gas"
	case SourceCoal:
		return "coal"
	case SourceNuclear:
		return "nuclear"
	case SourceGridMix:
		return "grid_mix"
	case SourceBattery:
		return "battery"
	default:
		return "unknown"
	}
}

func (s EnergySource) Valid() bool {
	return s >= SourceSolar && s <= SourceBattery
}

// Renewable reports whether the source counts towards the renewable share of a block.
func (s EnergySource) Renewable() bool {
	switch s {
	case SourceSolar, SourceWind, SourceHydro, SourceBiomass, SourceGeothermal:
		return true
	default:
		return false
	}
}

// Region is the administrative grid region used for geographic sharding.
type Region uint8

const (
	RegionBangkok Region = iota + 1
	RegionCentral
	RegionNorthern
	RegionNortheastern
	RegionEastern
	RegionWestern
	RegionSouthern
)

// Regions lists every region in declaration order.
var Regions = []Region{
	RegionBangkok,
	RegionCentral,
	RegionNorthern,
	RegionNortheastern,
	RegionEastern,
	RegionWestern,
	RegionSouthern,
}

func (r Region) String() string {
	switch r {
	case RegionBangkok:
		return "bangkok"
	case RegionCentral:
		return "central"
	case RegionNorthern:
		return "northern"
	case RegionNortheastern:
		return "northeastern"
	case RegionEastern:
		return "eastern"
	case RegionWestern:
		return "western"
	case RegionSouthern:
		return "southern"
	default:
		return "unknown"
	}
}

func (r Region) Valid() bool {
	return r >= RegionBangkok && r <= RegionSouthern
}

type GridLocation struct {
	Region           Region  `cbor:"1,keyasint"`
	ProvinceCode     string  `cbor:"2,keyasint,omitempty"`
	DistributionArea string  `cbor:"3,keyasint,omitempty"`
	SubstationID     string  `cbor:"4,keyasint,omitempty"`
	VoltageKV        float64 `cbor:"5,keyasint,omitempty"`
}

type OrderType uint8

const (
	OrderBuy OrderType = iota + 1
	OrderSell
	OrderMatch
)

func (o OrderType) String() string {
	switch o {
	case OrderBuy:
		return "buy"
	case OrderSell:
		return "sell"
	case OrderMatch:
		return "match"
	default:
		return "unknown"
	}
}

func (o OrderType) Valid() bool {
	return o >= OrderBuy && o <= OrderMatch
}

type QualityMetrics struct {
	FrequencyHz      float64 `cbor:"1,keyasint,omitempty"`
	Voltage          float64 `cbor:"2,keyasint,omitempty"`
	PowerFactor      float64 `cbor:"3,keyasint,omitempty"`
	THDPercent       float64 `cbor:"4,keyasint,omitempty"`
	ReliabilityScore uint8   `cbor:"5,keyasint,omitempty"`
}

type ComplianceData struct {
	RegulatorApproved       bool   `cbor:"1,keyasint,omitempty"`
	UtilityRegistration     string `cbor:"2,keyasint,omitempty"`
	EnvironmentalCompliance bool   `cbor:"3,keyasint,omitempty"`
	RECCertificate          string `cbor:"4,keyasint,omitempty"`
}
