package staging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

var header = strings.Join([]string{
	"Contract Number", "Buyer", "Award Date", "Due Date", "Contract Value", "Contract Type",
	"Solicitation Type", "Item Number", "Item Type", "NSN", "NSN Description", "IA", "FOB",
	"Due Date", "Order Qty", "UOM", "Item Value", "Unit Price", "Supplier", "Supplier Due Date",
	"Supplier Unit Price", "Supplier Price", "Supplier Payment Terms",
}, ",")

// row builds a CSV record from column overrides keyed by index.
func row(values map[int]string) string {
	fields := make([]string, len(Columns))
	for i, v := range values {
		fields[i] = v
	}
	return strings.Join(fields, ",")
}

func parseCSV(t *testing.T, body string) ([]Contract, error) {
	t.Helper()
	rows, err := readCSV(strings.NewReader(body), 0)
	if err != nil {
		return nil, err
	}
	return parseRows(rows, SourceCSV, "alice")
}

func scenarioRow() string {
	return row(map[int]string{
		colContractNumber: "W52P1J-24-C-0001",
		colBuyer:          "DLA LAND AND MARITIME",
		colAwardDate:      "2024-01-15",
		colContractValue:  "100000.00",
		colItemNumber:     "0001",
		colNSN:            "5935-01-123-4567",
		colOrderQty:       "100",
		colUnitPrice:      "50.00",
	})
}

func TestParseRows_ScenarioRow(t *testing.T) {
	contracts, err := parseCSV(t, header+"\n"+scenarioRow()+"\n")
	require.NoError(t, err)
	require.Len(t, contracts, 1)

	c := contracts[0]
	assert.Equal(t, "W52P1J-24-C-0001", c.ContractNumber)
	assert.Equal(t, "DLA LAND AND MARITIME", c.BuyerText)
	require.NotNil(t, c.AwardDate)
	assert.Equal(t, "2024-01-15", c.AwardDate.Format("2006-01-02"))
	assert.Equal(t, "100000", c.ContractValue.Decimal.String())
	assert.Equal(t, SourceCSV, c.Source)
	assert.Equal(t, "alice", c.CreatedBy)

	require.Len(t, c.LineItems, 1)
	li := c.LineItems[0]
	assert.Equal(t, "0001", li.ItemNumber)
	assert.Equal(t, "5935-01-123-4567", li.NSNText)
	assert.Equal(t, "100", li.OrderQty.Decimal.String())
	assert.Equal(t, "50", li.UnitPrice.Decimal.String())
	assert.False(t, li.ItemValue.Valid)
}

func TestParseRows_GroupsByContractNumber(t *testing.T) {
	body := header + "\n" +
		row(map[int]string{colContractNumber: "SPE7M1-24-P-0001", colBuyer: "DLA", colItemNumber: "0001"}) + "\n" +
		row(map[int]string{colContractNumber: "SPE7M1-24-P-0002", colItemNumber: "0001"}) + "\n" +
		"\n" +
		row(map[int]string{colContractNumber: "spe7m1-24-p-0001", colItemNumber: "0002", colItemType: "gfat"}) + "\n"

	contracts, err := parseCSV(t, body)
	require.NoError(t, err)
	require.Len(t, contracts, 2)
	assert.Equal(t, "SPE7M1-24-P-0001", contracts[0].ContractNumber)
	require.Len(t, contracts[0].LineItems, 2)
	assert.Equal(t, "G", contracts[0].LineItems[1].ItemType)
	assert.Equal(t, "DLA", contracts[0].BuyerText)
	assert.Len(t, contracts[1].LineItems, 1)
}

func TestParseRows_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		row    int
		column string
	}{
		{
			name:   "bad award date",
			body:   header + "\n" + scenarioRow() + "\n" + row(map[int]string{colContractNumber: "X-1", colItemNumber: "1", colAwardDate: "01/15/2024"}),
			row:    3,
			column: "Award Date",
		},
		{
			name:   "missing contract number",
			body:   header + "\n" + row(map[int]string{colItemNumber: "0001"}),
			row:    2,
			column: "Contract Number",
		},
		{
			name:   "missing item number",
			body:   header + "\n" + row(map[int]string{colContractNumber: "X-1"}),
			row:    2,
			column: "Item Number",
		},
		{
			name:   "non-numeric quantity",
			body:   header + "\n" + row(map[int]string{colContractNumber: "X-1", colItemNumber: "1", colOrderQty: "ten"}),
			row:    2,
			column: "Order Qty",
		},
		{
			name:   "bad fob",
			body:   header + "\n" + row(map[int]string{colContractNumber: "X-1", colItemNumber: "1", colFOB: "Q"}),
			row:    2,
			column: "FOB",
		},
		{
			name:   "unknown item type",
			body:   header + "\n" + row(map[int]string{colContractNumber: "X-1", colItemNumber: "1", colItemType: "Z"}),
			row:    2,
			column: "Item Type",
		},
		{
			name: "conflicting buyer",
			body: header + "\n" +
				row(map[int]string{colContractNumber: "X-1", colItemNumber: "1", colBuyer: "DLA"}) + "\n" +
				row(map[int]string{colContractNumber: "X-1", colItemNumber: "2", colBuyer: "NAVSUP"}),
			row:    3,
			column: "Buyer",
		},
		{
			name:   "header mismatch",
			body:   strings.Replace(header, "UOM", "Units", 1) + "\n" + scenarioRow(),
			row:    1,
			column: "UOM",
		},
		{
			name:   "too many columns",
			body:   header + "\n" + scenarioRow() + ",extra",
			row:    2,
			column: "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseCSV(t, tc.body)
			var mre *MalformedRowError
			require.ErrorAs(t, err, &mre)
			assert.ErrorIs(t, err, ErrMalformedImportRow)
			assert.Equal(t, tc.row, mre.Row)
			assert.Equal(t, tc.column, mre.Column)
		})
	}
}

func TestParseRows_Empty(t *testing.T) {
	_, err := parseCSV(t, "")
	assert.ErrorIs(t, err, ErrEmptyImport)
	_, err = parseCSV(t, header+"\n\n")
	assert.ErrorIs(t, err, ErrEmptyImport)
}

func TestReadCSV_RowLimit(t *testing.T) {
	body := header + "\n" + scenarioRow() + "\n" + scenarioRow() + "\n"
	_, err := readCSV(strings.NewReader(body), 1)
	assert.ErrorIs(t, err, ErrImportTooLarge)
}

func TestWriteTemplate_ParsesBack(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTemplate(&buf))

	contracts, err := parseCSV(t, buf.String())
	require.NoError(t, err)
	require.Len(t, contracts, 1)
	li := contracts[0].LineItems[0]
	assert.Equal(t, "P", li.ItemType)
	assert.Equal(t, "O", li.IA)
	assert.Equal(t, "D", li.FOB)
	assert.Equal(t, "EA", li.UOM)
}

func TestReadXLSX_PadsShortRows(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	headerRow := append([]string(nil), Columns...)
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &headerRow))
	data := []string{"N00104-24-C-0042", "NAVSUP WSS", "2024-02-01", "", "", "", "", "0001"}
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &data))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	rows, err := readXLSX(buf, 0)
	require.NoError(t, err)
	contracts, err := parseRows(rows, SourceXLSX, "bob")
	require.NoError(t, err)
	require.Len(t, contracts, 1)
	assert.Equal(t, "NAVSUP WSS", contracts[0].BuyerText)
	assert.Equal(t, SourceXLSX, contracts[0].Source)
	require.Len(t, contracts[0].LineItems, 1)
	assert.Equal(t, "0001", contracts[0].LineItems[0].ItemNumber)
}
