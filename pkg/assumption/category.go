package assumption

// Category identifies one assumption table family. Each category maps to one
// workbook sheet and one versioned row set in the store.
type Category string

const (
	CategoryRooftopSolarForecast  Category = "rooftop_solar_forecast"
	CategoryRooftopSolarHistory   Category = "rooftop_solar_history"
	CategoryDemandGrowth          Category = "demand_growth"
	CategoryBehindTheMeterBattery Category = "behind_the_meter_battery"
	CategoryRenewableProportion   Category = "renewable_proportion"
	CategoryRetirement            Category = "retirement"
	CategoryStrategicBehaviour    Category = "strategic_behaviour"
	CategoryGasPriceEscalation    Category = "gas_price_escalation"
	CategoryProjectList           Category = "project_list"
	CategoryMPCCPT                Category = "mpc_cpt"
	CategoryISPCapacity           Category = "isp_capacity"
)

// ColumnType is the storage type of one canonical column.
type ColumnType int

const (
	TypeString ColumnType = iota
	TypeYear
	TypeDate
	TypeDecimal
)

// Horizon selects which coverage check the pre-run validator applies.
type Horizon int

const (
	HorizonNone Horizon = iota
	HorizonYear         // bracket simulation start/end years on the horizon column
	HorizonDate         // bracket simulation start/end dates on the horizon column
)

// ColumnSpec links a required source header to its canonical storage name.
type ColumnSpec struct {
	Source    string
	Canonical string
	Type      ColumnType
}

// Descriptor describes one category: its sheet, required columns with rename
// and typing rules, and its validation behaviour. This registry replaces the
// original system's lookup-by-name of table classes.
type Descriptor struct {
	Category      Category
	Sheet         string
	Columns       []ColumnSpec
	Horizon       Horizon
	HorizonColumn string // canonical name
	Scenario      bool   // supports named scenario branching
	Standalone    bool   // uploaded separately, not part of the standard workbook
}

// Column returns the ColumnSpec for a canonical column name.
func (d Descriptor) Column(canonical string) (ColumnSpec, bool) {
	for _, c := range d.Columns {
		if c.Canonical == canonical {
			return c, true
		}
	}
	return ColumnSpec{}, false
}

func col(source, canonical string, t ColumnType) ColumnSpec {
	return ColumnSpec{Source: source, Canonical: canonical, Type: t}
}

var registry = []Descriptor{
	{
		Category: CategoryRooftopSolarForecast,
		Sheet:    "Rooftop_Solar_Forecast",
		Columns: []ColumnSpec{
			col("State", "State", TypeString),
			col("Year", "Year", TypeYear),
			col("AGGREGATE_MW", "Aggregate_MW", TypeDecimal),
		},
		Horizon:       HorizonYear,
		HorizonColumn: "Year",
	},
	{
		Category: CategoryRooftopSolarHistory,
		Sheet:    "Rooftop_Solar_History",
		Columns: []ColumnSpec{
			col("State", "State", TypeString),
			col("Date", "Date", TypeDate),
			col("AGGREGATE_MW", "Aggregate_MW", TypeDecimal),
		},
	},
	{
		Category: CategoryDemandGrowth,
		Sheet:    "Demand_Growth",
		Columns: []ColumnSpec{
			col("State", "State", TypeString),
			col("Year", "Year", TypeYear),
			col("Growth", "Growth", TypeDecimal),
		},
		Horizon:       HorizonYear,
		HorizonColumn: "Year",
	},
	{
		Category: CategoryBehindTheMeterBattery,
		Sheet:    "Behind_The_Meter_Battery",
		Columns: []ColumnSpec{
			col("State", "State", TypeString),
			col("Year", "Year", TypeYear),
			col("AGGREGATE_MW", "Aggregate_MW", TypeDecimal),
		},
		Horizon:       HorizonYear,
		HorizonColumn: "Year",
	},
	{
		Category: CategoryRenewableProportion,
		Sheet:    "Renewable_Proportion",
		Columns: []ColumnSpec{
			col("State", "State", TypeString),
			col("Date", "Date", TypeDate),
			col("Maximum Half-Hour Intermittent Proportion", "Max_Intermittent_Proportion", TypeDecimal),
		},
		Horizon:       HorizonDate,
		HorizonColumn: "Date",
	},
	{
		Category: CategoryRetirement,
		Sheet:    "Retirement",
		Columns: []ColumnSpec{
			col("DUID", "DUID", TypeString),
			col("Station Name", "Station_Name", TypeString),
			col("State", "State", TypeString),
			col("Fuel Type", "Fuel_Type", TypeString),
			col("Nameplate Capacity (MW)", "Nameplate_Capacity_MW", TypeDecimal),
			col("Closure Date", "Closure_Date", TypeDate),
			col("Back To Service Date", "Back_To_Service_Date", TypeDate),
		},
	},
	{
		Category: CategoryStrategicBehaviour,
		Sheet:    "Strategic_Behaviour",
		Columns: []ColumnSpec{
			col("State", "State", TypeString),
			col("DUID", "DUID", TypeString),
			col("Price Threshold ($/MWh)", "Price_Threshold_MWh", TypeDecimal),
			col("Capacity Withheld (MW)", "Capacity_Withheld_MW", TypeDecimal),
		},
	},
	{
		Category: CategoryGasPriceEscalation,
		Sheet:    "Gas_Price_Escalation",
		Columns: []ColumnSpec{
			col("State", "State", TypeString),
			col("Year", "Year", TypeYear),
			col("Escalation Rate", "Escalation_Rate", TypeDecimal),
		},
	},
	{
		Category: CategoryProjectList,
		Sheet:    "NewFormat",
		Columns: []ColumnSpec{
			col("DUID", "DUID", TypeString),
			col("Project Name", "Project_Name", TypeString),
			col("State", "State", TypeString),
			col("FuelType", "Fuel_Type", TypeString),
			col("Nameplate Capacity (MW)", "Nameplate_Capacity_MW", TypeDecimal),
			col("Quantity", "Maximum_Quantity", TypeDecimal),
			col("StartDate", "Start_Date", TypeDate),
			col("EndDate", "End_Date", TypeDate),
			col("Proxy", "Proxy", TypeString),
		},
	},
	{
		Category: CategoryMPCCPT,
		Sheet:    "MPC_CPT",
		Columns: []ColumnSpec{
			col("Financial Year", "Financial_Year", TypeString),
			col("MPC", "MPC", TypeDecimal),
			col("CPT", "CPT", TypeDecimal),
		},
	},
	{
		Category: CategoryISPCapacity,
		Sheet:    "ISP_Capacity",
		Columns: []ColumnSpec{
			col("Region", "Region", TypeString),
			col("Technology", "Technology", TypeString),
			col("Year", "Year", TypeYear),
			col("Value", "Value", TypeDecimal),
		},
		Scenario:   true,
		Standalone: true,
	},
}

// Registry returns all category descriptors in ingestion order.
func Registry() []Descriptor {
	out := make([]Descriptor, len(registry))
	copy(out, registry)
	return out
}

// WorkbookCategories returns the descriptors ingested from a standard
// assumption workbook (standalone categories excluded).
func WorkbookCategories() []Descriptor {
	var out []Descriptor
	for _, d := range registry {
		if !d.Standalone {
			out = append(out, d)
		}
	}
	return out
}

// Lookup finds the descriptor for a category.
func Lookup(c Category) (Descriptor, bool) {
	for _, d := range registry {
		if d.Category == c {
			return d, true
		}
	}
	return Descriptor{}, false
}
