package archive

// Config selects where raw webhook payloads are kept. An empty Driver disables archiving.
type Config struct {
	Driver         string `env:"ARCHIVE_DRIVER"` // "s3" or "local"
	Prefix         string `env:"ARCHIVE_PREFIX" envDefault:"webhooks"`
	LocalDir       string `env:"ARCHIVE_LOCAL_DIR" envDefault:"./tmp/archive"`
	Bucket         string `env:"ARCHIVE_S3_BUCKET"`
	Region         string `env:"ARCHIVE_S3_REGION" envDefault:"us-east-1"`
	AccessKeyID    string `env:"ARCHIVE_S3_ACCESS_KEY_ID"`
	SecretKey      string `env:"ARCHIVE_S3_SECRET_KEY"`
	Endpoint       string `env:"ARCHIVE_S3_ENDPOINT"`
	ForcePathStyle bool   `env:"ARCHIVE_S3_FORCE_PATH_STYLE" envDefault:"false"`
}
