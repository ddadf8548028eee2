package gcp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/diillson/cloud-finops-engine/internal/adapter/driven/provider"
	"github.com/diillson/cloud-finops-engine/internal/domain/entity"
	"github.com/diillson/cloud-finops-engine/internal/shared/types"
)

// DefaultEndpoint é a raiz da API REST do BigQuery.
const DefaultEndpoint = "https://bigquery.googleapis.com/bigquery/v2"

// DefaultTokenEnv guarda o access token OAuth quando a conta não define token_env.
const DefaultTokenEnv = "GCP_ACCESS_TOKEN"

const pageSize = 10000

// BillingRepository consulta o export de billing do GCP no BigQuery.
type BillingRepository struct {
	endpoint string
	client   *http.Client
	token    provider.TokenSource
}

// NewBillingRepository cria o repositório; endpoint vazio usa DefaultEndpoint.
func NewBillingRepository(endpoint string, client *http.Client, token provider.TokenSource) *BillingRepository {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &BillingRepository{endpoint: strings.TrimRight(endpoint, "/"), client: client, token: token}
}

type queryParameter struct {
	Name          string `json:"name"`
	ParameterType struct {
		Type string `json:"type"`
	} `json:"parameterType"`
	ParameterValue struct {
		Value string `json:"value"`
	} `json:"parameterValue"`
}

func stringParam(name, value string) queryParameter {
	var p queryParameter
	p.Name = name
	p.ParameterType.Type = "STRING"
	p.ParameterValue.Value = value
	return p
}

func timestampParam(name string, value time.Time) queryParameter {
	var p queryParameter
	p.Name = name
	p.ParameterType.Type = "TIMESTAMP"
	p.ParameterValue.Value = value.UTC().Format("2006-01-02 15:04:05")
	return p
}

type queryRequest struct {
	Query           string           `json:"query"`
	UseLegacySQL    bool             `json:"useLegacySql"`
	ParameterMode   string           `json:"parameterMode"`
	QueryParameters []queryParameter `json:"queryParameters"`
	MaxResults      int              `json:"maxResults"`
	TimeoutMs       int              `json:"timeoutMs"`
}

type queryResponse struct {
	JobComplete  bool `json:"jobComplete"`
	JobReference struct {
		JobID    string `json:"jobId"`
		Location string `json:"location"`
	} `json:"jobReference"`
	PageToken string `json:"pageToken"`
	Rows      []struct {
		F []struct {
			V *string `json:"v"`
		} `json:"f"`
	} `json:"rows"`
}

// Query executa a consulta agregada para uma janela e segue a paginação.
func (r *BillingRepository) Query(ctx context.Context, account entity.AccountRef, query entity.CostQuery) ([]entity.CostRecord, error) {
	if account.BillingTable == "" {
		return nil, fmt.Errorf("%w: account %s has no billing_table", types.ErrMalformed, account.ID)
	}
	project := account.ExternalID
	if project == "" {
		project = account.ID
	}

	token, err := r.token(ctx, account)
	if err != nil {
		return nil, err
	}

	sql, params, err := buildSQL(account.BillingTable, project, query)
	if err != nil {
		return nil, err
	}

	body := queryRequest{
		Query:           sql,
		ParameterMode:   "NAMED",
		QueryParameters: params,
		MaxResults:      pageSize,
		TimeoutMs:       30000,
	}

	var resp queryResponse
	queryURL := fmt.Sprintf("%s/projects/%s/queries", r.endpoint, url.PathEscape(project))
	if err := provider.DoJSON(ctx, r.client, http.MethodPost, queryURL, token, body, &resp); err != nil {
		return nil, err
	}
	if !resp.JobComplete {
		return nil, fmt.Errorf("%w: billing query did not complete in time", types.ErrUnavailable)
	}

	var records []entity.CostRecord
	for {
		batch, err := parseRows(resp, query.Granularity)
		if err != nil {
			return nil, err
		}
		records = append(records, batch...)

		if resp.PageToken == "" {
			break
		}

		pageURL := fmt.Sprintf("%s/projects/%s/queries/%s?pageToken=%s&maxResults=%d&location=%s",
			r.endpoint, url.PathEscape(project), url.PathEscape(resp.JobReference.JobID),
			url.QueryEscape(resp.PageToken), pageSize, url.QueryEscape(resp.JobReference.Location))
		next := queryResponse{JobReference: resp.JobReference}
		if err := provider.DoJSON(ctx, r.client, http.MethodGet, pageURL, token, nil, &next); err != nil {
			return nil, err
		}
		if next.JobReference.JobID == "" {
			next.JobReference = resp.JobReference
		}
		resp = next
	}

	return records, nil
}

func buildSQL(table, project string, query entity.CostQuery) (string, []queryParameter, error) {
	params := []queryParameter{
		stringParam("project", project),
		timestampParam("start", query.Range.Start),
		timestampParam("end", query.Range.End),
	}

	var dimension string
	switch query.GroupBy {
	case entity.DimensionService, "":
		dimension = "service.description"
	case entity.DimensionRegion:
		dimension = "IFNULL(location.region, 'global')"
	case entity.DimensionTag:
		if query.TagKey == "" {
			return "", nil, fmt.Errorf("%w: tag grouping requires a tag key", types.ErrMalformed)
		}
		dimension = "IFNULL((SELECT l.value FROM UNNEST(labels) AS l WHERE l.key = @tag_key LIMIT 1), 'untagged')"
		params = append(params, stringParam("tag_key", query.TagKey))
	default:
		return "", nil, fmt.Errorf("%w: unsupported dimension %s", types.ErrMalformed, query.GroupBy)
	}

	period := "DATE(usage_start_time)"
	if query.Granularity == entity.GranularityMonthly {
		period = "DATE_TRUNC(DATE(usage_start_time), MONTH)"
	}

	where := "project.id = @project AND usage_start_time >= @start AND usage_start_time < @end"
	if query.Region != "" {
		where += " AND location.region = @region"
		params = append(params, stringParam("region", query.Region))
	}

	table = strings.Trim(table, "`")
	sql := fmt.Sprintf(
		"SELECT %s AS dimension, FORMAT_DATE('%%Y-%%m-%%d', %s) AS day, "+
			"CAST(SUM(cost) + SUM(IFNULL((SELECT SUM(c.amount) FROM UNNEST(credits) AS c), 0)) AS STRING) AS amount, currency "+
			"FROM `%s` WHERE %s GROUP BY dimension, day, currency ORDER BY day",
		dimension, period, table, where)
	return sql, params, nil
}

func parseRows(resp queryResponse, granularity entity.Granularity) ([]entity.CostRecord, error) {
	records := make([]entity.CostRecord, 0, len(resp.Rows))
	for _, row := range resp.Rows {
		if len(row.F) < 4 {
			return nil, fmt.Errorf("%w: billing row has %d columns", types.ErrMalformed, len(row.F))
		}
		value := func(i int) string {
			if row.F[i].V == nil {
				return ""
			}
			return *row.F[i].V
		}

		date, err := time.Parse(entity.DateLayout, value(1))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid billing day %q", types.ErrMalformed, value(1))
		}
		amount, err := decimal.NewFromString(value(2))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid billing amount %q", types.ErrMalformed, value(2))
		}
		dimension := value(0)
		if dimension == "" {
			dimension = "unknown"
		}

		records = append(records, entity.CostRecord{
			DimensionKey: dimension,
			Date:         granularity.Truncate(date),
			Amount:       amount,
			Currency:     value(3),
		})
	}
	return records, nil
}
