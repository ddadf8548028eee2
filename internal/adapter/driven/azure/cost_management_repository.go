package azure

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/diillson/cloud-finops-engine/internal/adapter/driven/provider"
	"github.com/diillson/cloud-finops-engine/internal/domain/entity"
	"github.com/diillson/cloud-finops-engine/internal/shared/types"
)

const (
	// DefaultEndpoint é a raiz do Azure Resource Manager.
	DefaultEndpoint = "https://management.azure.com"
	// DefaultTokenEnv guarda o bearer token quando a conta não define token_env.
	DefaultTokenEnv = "AZURE_ACCESS_TOKEN"
	apiVersion      = "2023-03-01"
)

// CostManagementRepository consulta a API de query do Azure Cost Management.
type CostManagementRepository struct {
	endpoint string
	client   *http.Client
	token    provider.TokenSource
}

// NewCostManagementRepository cria o repositório; endpoint vazio usa DefaultEndpoint.
func NewCostManagementRepository(endpoint string, client *http.Client, token provider.TokenSource) *CostManagementRepository {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &CostManagementRepository{endpoint: strings.TrimRight(endpoint, "/"), client: client, token: token}
}

type grouping struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type dimensionFilter struct {
	Dimensions struct {
		Name     string   `json:"name"`
		Operator string   `json:"operator"`
		Values   []string `json:"values"`
	} `json:"dimensions"`
}

type queryDataset struct {
	Granularity string `json:"granularity"`
	Aggregation map[string]struct {
		Name     string `json:"name"`
		Function string `json:"function"`
	} `json:"aggregation"`
	Grouping []grouping       `json:"grouping"`
	Filter   *dimensionFilter `json:"filter,omitempty"`
}

type queryRequest struct {
	Type       string `json:"type"`
	Timeframe  string `json:"timeframe"`
	TimePeriod struct {
		From string `json:"from"`
		To   string `json:"to"`
	} `json:"timePeriod"`
	Dataset queryDataset `json:"dataset"`
}

type queryResponse struct {
	Properties struct {
		NextLink string `json:"nextLink"`
		Columns  []struct {
			Name string `json:"name"`
			Type string `json:"type"`
		} `json:"columns"`
		Rows [][]interface{} `json:"rows"`
	} `json:"properties"`
}

// Query executa a consulta para uma janela e segue o nextLink.
func (r *CostManagementRepository) Query(ctx context.Context, account entity.AccountRef, query entity.CostQuery) ([]entity.CostRecord, error) {
	subscription := account.ExternalID
	if subscription == "" {
		subscription = account.ID
	}

	token, err := r.token(ctx, account)
	if err != nil {
		return nil, err
	}

	body, groupColumn, err := buildRequest(query)
	if err != nil {
		return nil, err
	}

	next := fmt.Sprintf("%s/subscriptions/%s/providers/Microsoft.CostManagement/query?api-version=%s",
		r.endpoint, url.PathEscape(subscription), apiVersion)

	var records []entity.CostRecord
	for next != "" {
		var resp queryResponse
		if err := provider.DoJSON(ctx, r.client, http.MethodPost, next, token, body, &resp); err != nil {
			return nil, err
		}

		batch, err := parseRows(resp, groupColumn, query.Granularity)
		if err != nil {
			return nil, err
		}
		records = append(records, batch...)
		next = resp.Properties.NextLink
	}

	return records, nil
}

func buildRequest(query entity.CostQuery) (queryRequest, string, error) {
	var req queryRequest
	req.Type = "ActualCost"
	req.Timeframe = "Custom"
	req.TimePeriod.From = query.Range.Start.Format("2006-01-02T15:04:05Z")
	// O intervalo da API é inclusivo.
	req.TimePeriod.To = query.Range.End.Add(-time.Second).Format("2006-01-02T15:04:05Z")

	req.Dataset.Granularity = "Daily"
	if query.Granularity == entity.GranularityMonthly {
		req.Dataset.Granularity = "Monthly"
	}
	req.Dataset.Aggregation = map[string]struct {
		Name     string `json:"name"`
		Function string `json:"function"`
	}{
		"totalCost": {Name: "Cost", Function: "Sum"},
	}

	var group grouping
	switch query.GroupBy {
	case entity.DimensionService, "":
		group = grouping{Type: "Dimension", Name: "ServiceName"}
	case entity.DimensionRegion:
		group = grouping{Type: "Dimension", Name: "ResourceLocation"}
	case entity.DimensionTag:
		if query.TagKey == "" {
			return req, "", fmt.Errorf("%w: tag grouping requires a tag key", types.ErrMalformed)
		}
		group = grouping{Type: "TagKey", Name: query.TagKey}
	default:
		return req, "", fmt.Errorf("%w: unsupported dimension %s", types.ErrMalformed, query.GroupBy)
	}
	req.Dataset.Grouping = []grouping{group}

	if query.Region != "" {
		filter := &dimensionFilter{}
		filter.Dimensions.Name = "ResourceLocation"
		filter.Dimensions.Operator = "In"
		filter.Dimensions.Values = []string{query.Region}
		req.Dataset.Filter = filter
	}

	groupColumn := group.Name
	if group.Type == "TagKey" {
		// Agrupamentos por tag retornam as colunas TagKey e TagValue.
		groupColumn = "TagValue"
	}
	return req, groupColumn, nil
}

func parseRows(resp queryResponse, groupColumn string, granularity entity.Granularity) ([]entity.CostRecord, error) {
	index := map[string]int{}
	for i, column := range resp.Properties.Columns {
		index[strings.ToLower(column.Name)] = i
	}

	costIdx, ok := index["cost"]
	if !ok {
		if costIdx, ok = index["pretaxcost"]; !ok {
			return nil, fmt.Errorf("%w: cost column missing", types.ErrMalformed)
		}
	}
	dateIdx, ok := index["usagedate"]
	if !ok {
		if dateIdx, ok = index["billingmonth"]; !ok {
			return nil, fmt.Errorf("%w: date column missing", types.ErrMalformed)
		}
	}
	groupIdx, hasGroup := index[strings.ToLower(groupColumn)]
	currencyIdx, hasCurrency := index["currency"]

	records := make([]entity.CostRecord, 0, len(resp.Properties.Rows))
	for _, row := range resp.Properties.Rows {
		if len(row) <= costIdx || len(row) <= dateIdx {
			return nil, fmt.Errorf("%w: short cost row", types.ErrMalformed)
		}

		amount, err := toDecimal(row[costIdx])
		if err != nil {
			return nil, err
		}
		date, err := toDate(row[dateIdx])
		if err != nil {
			return nil, err
		}

		dimension := "unknown"
		if hasGroup && len(row) > groupIdx {
			if s, _ := row[groupIdx].(string); s != "" {
				dimension = s
			} else if groupColumn == "TagValue" {
				dimension = "untagged"
			}
		}
		currency := "USD"
		if hasCurrency && len(row) > currencyIdx {
			if s, _ := row[currencyIdx].(string); s != "" {
				currency = s
			}
		}

		records = append(records, entity.CostRecord{
			DimensionKey: dimension,
			Date:         granularity.Truncate(date),
			Amount:       amount,
			Currency:     currency,
		})
	}
	return records, nil
}

func toDecimal(v interface{}) (decimal.Decimal, error) {
	switch value := v.(type) {
	case float64:
		return decimal.NewFromFloat(value), nil
	case string:
		d, err := decimal.NewFromString(value)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: invalid cost %q", types.ErrMalformed, value)
		}
		return d, nil
	default:
		return decimal.Zero, fmt.Errorf("%w: invalid cost %v", types.ErrMalformed, v)
	}
}

// toDate aceita UsageDate numérico (20240115) ou datas ISO.
func toDate(v interface{}) (time.Time, error) {
	switch value := v.(type) {
	case float64:
		t, err := time.Parse("20060102", strconv.FormatInt(int64(value), 10))
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: invalid usage date %v", types.ErrMalformed, value)
		}
		return t, nil
	case string:
		if len(value) >= 10 {
			if t, err := time.Parse(entity.DateLayout, value[:10]); err == nil {
				return t, nil
			}
		}
		if t, err := time.Parse("20060102", value); err == nil {
			return t, nil
		}
		return time.Time{}, fmt.Errorf("%w: invalid usage date %q", types.ErrMalformed, value)
	default:
		return time.Time{}, fmt.Errorf("%w: invalid usage date %v", types.ErrMalformed, v)
	}
}
