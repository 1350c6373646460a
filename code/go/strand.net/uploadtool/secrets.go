package main

import (
	"context"

	"github.com/0chain/errors"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/spf13/viper"

	"github.com/strandnet/strand/code/go/strand.net/core/common"
)

// resolveSecret finds the application secret: the flag wins, then the
// config file or environment, then AWS Secrets Manager when secret.aws_id
// names one. The secret never touches the log.
func resolveSecret(ctx context.Context) (string, error) {
	if secret := viper.GetString("app.secret"); secret != "" {
		return secret, nil
	}
	if id := viper.GetString("secret.aws_id"); id != "" {
		return fetchAWSSecret(ctx, id)
	}
	return "", errors.Throw(common.ErrInvalidConfig,
		"no application secret: set -app.secret, APP_SECRET or -secret.aws_id")
}

func fetchAWSSecret(ctx context.Context, id string) (string, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return "", errors.Wrap(err, errors.New("aws_config", "load AWS configuration"))
	}

	client := secretsmanager.NewFromConfig(awsCfg)
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(id),
	})
	if err != nil {
		return "", errors.Wrap(err, errors.Newf("aws_secret", "fetch secret %s", id))
	}
	if out.SecretString != nil {
		return *out.SecretString, nil
	}
	return string(out.SecretBinary), nil
}
