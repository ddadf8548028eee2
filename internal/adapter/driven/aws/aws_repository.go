package aws

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/budgets"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	ceTypes "github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"github.com/shopspring/decimal"

	"github.com/diillson/cloud-finops-engine/internal/domain/entity"
	"github.com/diillson/cloud-finops-engine/internal/shared/types"
)

const (
	costMetric    = "UnblendedCost"
	globalRegion  = "us-east-1"
	untaggedValue = "untagged"
)

type costExplorerAPI interface {
	GetCostAndUsage(ctx context.Context, params *costexplorer.GetCostAndUsageInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageOutput, error)
}

type budgetsAPI interface {
	DescribeBudgets(ctx context.Context, params *budgets.DescribeBudgetsInput, optFns ...func(*budgets.Options)) (*budgets.DescribeBudgetsOutput, error)
}

type stsAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

type ec2API interface {
	DescribeRegions(ctx context.Context, params *ec2.DescribeRegionsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error)
}

// AWSRepositoryImpl consulta o Cost Explorer, o Budgets e o EC2 com cache de clientes.
type AWSRepositoryImpl struct {
	cfgCache    map[string]aws.Config
	clientCache map[string]interface{}
	mu          sync.Mutex
}

// NewAWSRepository cria uma nova implementação do repositório AWS.
func NewAWSRepository() *AWSRepositoryImpl {
	return &AWSRepositoryImpl{
		cfgCache:    make(map[string]aws.Config),
		clientCache: make(map[string]interface{}),
	}
}

func (r *AWSRepositoryImpl) getAWSConfig(ctx context.Context, profile string) (aws.Config, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cfg, ok := r.cfgCache[profile]; ok {
		return cfg, nil
	}

	var opts []func(*config.LoadOptions) error
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config for profile %s: %w", profile, err)
	}

	r.cfgCache[profile] = cfg
	return cfg, nil
}

func clientCacheKey(profile, region, service string) string {
	// Cost Explorer e Budgets só respondem em us-east-1.
	if service == "costexplorer" || service == "budgets" || region == "" {
		region = globalRegion
	}
	return fmt.Sprintf("%s-%s-%s", profile, region, service)
}

func (r *AWSRepositoryImpl) getServiceClient(ctx context.Context, profile, region, service string) (interface{}, error) {
	cacheKey := clientCacheKey(profile, region, service)

	r.mu.Lock()
	if client, ok := r.clientCache[cacheKey]; ok {
		r.mu.Unlock()
		return client, nil
	}
	r.mu.Unlock()

	cfg, err := r.getAWSConfig(ctx, profile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrUnauthorized, err)
	}

	regionalCfg := cfg.Copy()
	regionalCfg.Region = globalRegion
	if region != "" {
		regionalCfg.Region = region
	}

	var client interface{}
	switch service {
	case "sts":
		client = sts.NewFromConfig(regionalCfg)
	case "ec2":
		client = ec2.NewFromConfig(regionalCfg)
	case "costexplorer":
		regionalCfg.Region = globalRegion
		client = costexplorer.NewFromConfig(regionalCfg)
	case "budgets":
		regionalCfg.Region = globalRegion
		client = budgets.NewFromConfig(regionalCfg)
	default:
		return nil, fmt.Errorf("unsupported service: %s", service)
	}

	r.mu.Lock()
	r.clientCache[cacheKey] = client
	r.mu.Unlock()

	return client, nil
}

// Query executa GetCostAndUsage para uma janela, seguindo a paginação.
func (r *AWSRepositoryImpl) Query(ctx context.Context, account entity.AccountRef, query entity.CostQuery) ([]entity.CostRecord, error) {
	client, err := r.getServiceClient(ctx, account.Profile, "", "costexplorer")
	if err != nil {
		return nil, err
	}
	ceClient := client.(costExplorerAPI)

	groupBy, err := groupDefinition(query)
	if err != nil {
		return nil, err
	}
	filter, err := buildFilter(account, query.Region)
	if err != nil {
		return nil, err
	}

	granularity := ceTypes.GranularityDaily
	if query.Granularity == entity.GranularityMonthly {
		granularity = ceTypes.GranularityMonthly
	}

	input := &costexplorer.GetCostAndUsageInput{
		TimePeriod: &ceTypes.DateInterval{
			Start: aws.String(query.Range.Start.Format(entity.DateLayout)),
			End:   aws.String(query.Range.End.Format(entity.DateLayout)),
		},
		Granularity: granularity,
		Metrics:     []string{costMetric},
		GroupBy:     []ceTypes.GroupDefinition{groupBy},
		Filter:      filter,
	}

	var records []entity.CostRecord
	for {
		result, err := ceClient.GetCostAndUsage(ctx, input)
		if err != nil {
			return nil, classifyAWSError(err)
		}

		batch, err := parseResults(result.ResultsByTime, query)
		if err != nil {
			return nil, err
		}
		records = append(records, batch...)

		if result.NextPageToken == nil || *result.NextPageToken == "" {
			break
		}
		input.NextPageToken = result.NextPageToken
	}

	return records, nil
}

func groupDefinition(query entity.CostQuery) (ceTypes.GroupDefinition, error) {
	switch query.GroupBy {
	case entity.DimensionService, "":
		return ceTypes.GroupDefinition{Type: ceTypes.GroupDefinitionTypeDimension, Key: aws.String("SERVICE")}, nil
	case entity.DimensionRegion:
		return ceTypes.GroupDefinition{Type: ceTypes.GroupDefinitionTypeDimension, Key: aws.String("REGION")}, nil
	case entity.DimensionTag:
		if query.TagKey == "" {
			return ceTypes.GroupDefinition{}, fmt.Errorf("%w: tag grouping requires a tag key", types.ErrMalformed)
		}
		return ceTypes.GroupDefinition{Type: ceTypes.GroupDefinitionTypeTag, Key: aws.String(query.TagKey)}, nil
	default:
		return ceTypes.GroupDefinition{}, fmt.Errorf("%w: unsupported dimension %s", types.ErrMalformed, query.GroupBy)
	}
}

func parseResults(results []ceTypes.ResultByTime, query entity.CostQuery) ([]entity.CostRecord, error) {
	var records []entity.CostRecord
	for _, period := range results {
		if period.TimePeriod == nil || period.TimePeriod.Start == nil {
			return nil, fmt.Errorf("%w: result without time period", types.ErrMalformed)
		}
		date, err := time.Parse(entity.DateLayout, *period.TimePeriod.Start)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid period start %q", types.ErrMalformed, *period.TimePeriod.Start)
		}

		for _, group := range period.Groups {
			metric, ok := group.Metrics[costMetric]
			if !ok || metric.Amount == nil || len(group.Keys) == 0 {
				continue
			}
			amount, err := decimal.NewFromString(*metric.Amount)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid amount %q", types.ErrMalformed, *metric.Amount)
			}

			currency := "USD"
			if metric.Unit != nil && *metric.Unit != "" {
				currency = *metric.Unit
			}

			records = append(records, entity.CostRecord{
				DimensionKey: dimensionKey(group.Keys[0], query),
				Date:         query.Granularity.Truncate(date),
				Amount:       amount,
				Currency:     currency,
			})
		}
	}
	return records, nil
}

// dimensionKey remove o prefixo "chave$" que o Cost Explorer devolve para tags.
func dimensionKey(key string, query entity.CostQuery) string {
	if query.GroupBy != entity.DimensionTag {
		return key
	}
	value := strings.TrimPrefix(key, query.TagKey+"$")
	if value == "" {
		return untaggedValue
	}
	return value
}

func buildFilter(account entity.AccountRef, region string) (*ceTypes.Expression, error) {
	var expressions []ceTypes.Expression

	if account.ExternalID != "" {
		expressions = append(expressions, ceTypes.Expression{
			Dimensions: &ceTypes.DimensionValues{
				Key:    ceTypes.DimensionLinkedAccount,
				Values: []string{account.ExternalID},
			},
		})
	}
	if region != "" {
		expressions = append(expressions, ceTypes.Expression{
			Dimensions: &ceTypes.DimensionValues{
				Key:    ceTypes.DimensionRegion,
				Values: []string{region},
			},
		})
	}

	tagFilter, err := parseTagFilter(account.Tags)
	if err != nil {
		return nil, err
	}
	if tagFilter != nil {
		if tagFilter.And != nil {
			expressions = append(expressions, tagFilter.And...)
		} else {
			expressions = append(expressions, *tagFilter)
		}
	}

	switch len(expressions) {
	case 0:
		return nil, nil
	case 1:
		return &expressions[0], nil
	default:
		return &ceTypes.Expression{And: expressions}, nil
	}
}

func parseTagFilter(tags []string) (*ceTypes.Expression, error) {
	if len(tags) == 0 {
		return nil, nil
	}

	var expressions []ceTypes.Expression
	for _, t := range tags {
		parts := strings.SplitN(t, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("%w: invalid tag format: %s", types.ErrMalformed, t)
		}
		expressions = append(expressions, ceTypes.Expression{
			Tags: &ceTypes.TagValues{
				Key:    aws.String(parts[0]),
				Values: []string{parts[1]},
			},
		})
	}

	if len(expressions) == 1 {
		return &expressions[0], nil
	}

	return &ceTypes.Expression{And: expressions}, nil
}

// classifyAWSError mapeia os códigos de erro da API para a taxonomia.
func classifyAWSError(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %v", types.ErrUnavailable, err)
	}

	switch apiErr.ErrorCode() {
	case "LimitExceededException", "ThrottlingException", "TooManyRequestsException", "RequestLimitExceeded":
		return fmt.Errorf("%w: %v", types.ErrRateLimited, err)
	case "AccessDeniedException", "UnrecognizedClientException", "ExpiredTokenException",
		"InvalidClientTokenId", "UnauthorizedOperation", "AccessDenied":
		return fmt.Errorf("%w: %v", types.ErrUnauthorized, err)
	case "ValidationException", "InvalidNextTokenException", "BillExpirationException", "RequestChangedException":
		return fmt.Errorf("%w: %v", types.ErrMalformed, err)
	default:
		return fmt.Errorf("%w: %v", types.ErrUnavailable, err)
	}
}

// ListRegions retorna as regiões habilitadas da conta.
func (r *AWSRepositoryImpl) ListRegions(ctx context.Context, account entity.AccountRef) ([]string, error) {
	client, err := r.getServiceClient(ctx, account.Profile, globalRegion, "ec2")
	if err != nil {
		return nil, fmt.Errorf("could not create EC2 client to list regions: %w", err)
	}
	ec2Client := client.(ec2API)

	regionsOutput, err := ec2Client.DescribeRegions(ctx, &ec2.DescribeRegionsInput{AllRegions: aws.Bool(false)})
	if err != nil {
		return nil, classifyAWSError(err)
	}

	regions := make([]string, 0, len(regionsOutput.Regions))
	for _, region := range regionsOutput.Regions {
		if region.RegionName != nil {
			regions = append(regions, *region.RegionName)
		}
	}
	sort.Strings(regions)
	return regions, nil
}

// GetAccountID resolve o número da conta: ExternalID quando configurado,
// senão o STS GetCallerIdentity do perfil.
func (r *AWSRepositoryImpl) GetAccountID(ctx context.Context, account entity.AccountRef) (string, error) {
	if account.ExternalID != "" {
		return account.ExternalID, nil
	}

	client, err := r.getServiceClient(ctx, account.Profile, globalRegion, "sts")
	if err != nil {
		return "", err
	}
	stsClient := client.(stsAPI)

	result, err := stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("error getting account ID for profile %s: %w", account.Profile, classifyAWSError(err))
	}
	if result.Account == nil {
		return "", fmt.Errorf("%w: caller identity without account", types.ErrMalformed)
	}
	return *result.Account, nil
}

// GetBudgets lista os orçamentos da conta com o gasto real e previsto.
func (r *AWSRepositoryImpl) GetBudgets(ctx context.Context, account entity.AccountRef) ([]entity.BudgetStatus, error) {
	if account.Provider != entity.ProviderAWS {
		return nil, nil
	}

	client, err := r.getServiceClient(ctx, account.Profile, "", "budgets")
	if err != nil {
		return nil, err
	}
	budgetsClient := client.(budgetsAPI)

	accountID, err := r.GetAccountID(ctx, account)
	if err != nil {
		return nil, err
	}

	var statuses []entity.BudgetStatus
	input := &budgets.DescribeBudgetsInput{AccountId: aws.String(accountID)}
	for {
		result, err := budgetsClient.DescribeBudgets(ctx, input)
		if err != nil {
			return nil, classifyAWSError(err)
		}

		for _, budget := range result.Budgets {
			status := entity.BudgetStatus{
				Name:     aws.ToString(budget.BudgetName),
				Limit:    decimal.Zero,
				Actual:   decimal.Zero,
				Forecast: decimal.Zero,
			}
			if budget.BudgetLimit != nil {
				status.Limit = parseSpend(budget.BudgetLimit.Amount)
				status.Unit = aws.ToString(budget.BudgetLimit.Unit)
			}
			if budget.CalculatedSpend != nil {
				if budget.CalculatedSpend.ActualSpend != nil {
					status.Actual = parseSpend(budget.CalculatedSpend.ActualSpend.Amount)
				}
				if budget.CalculatedSpend.ForecastedSpend != nil {
					status.Forecast = parseSpend(budget.CalculatedSpend.ForecastedSpend.Amount)
				}
			}
			if !status.Limit.IsZero() {
				status.UsedPercent, _ = status.Actual.Div(status.Limit).Mul(decimal.NewFromInt(100)).Round(2).Float64()
			}
			statuses = append(statuses, status)
		}

		if result.NextToken == nil || *result.NextToken == "" {
			break
		}
		input.NextToken = result.NextToken
	}

	return statuses, nil
}

func parseSpend(amount *string) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	value, err := decimal.NewFromString(*amount)
	if err != nil {
		return decimal.Zero
	}
	return value
}
