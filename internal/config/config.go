package config

import (
	"flag"
	"log"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env        string     `yaml:"env" env:"ENV" env-default:"production"`
	HTTPServer HTTPServer `yaml:"http_server"`
	Redis      Redis      `yaml:"redis"`
	PGSQL      PQSQL      `yaml:"pgsql"`
	MinIO      MinIO      `yaml:"minio"`
	SQS        SQS        `yaml:"sqs"`
	Upload     Upload     `yaml:"upload"`
	JWTSecret  string     `yaml:"jwt_secret" env:"JWT_SECRET" env-default:"super_secret_key"`
}

type HTTPServer struct {
	Address string `yaml:"address" env:"HTTP_ADDRESS" env-default:"localhost:8080"`
}

type Redis struct {
	Address  string `yaml:"address" env:"REDIS_ADDRESS" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD" env-default:""`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

type PQSQL struct {
	Host     string `yaml:"host" env:"PG_HOST" env-default:"localhost"`
	Port     string `yaml:"port" env:"PG_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"PG_USER" env-default:"postgres"`
	Password string `yaml:"password" env:"PG_PASSWORD" env-default:"password"`
	DBName   string `yaml:"dbname" env:"PG_DBNAME" env-default:"media_metadata"`
	SSLMode  string `yaml:"sslmode" env:"PG_SSLMODE" env-default:"disable"`
}

type MinIO struct {
	Endpoint        string `yaml:"endpoint" env:"MINIO_ENDPOINT" env-default:"localhost:9000"`
	AccessKeyID     string `yaml:"access_key_id" env:"MINIO_ACCESS_KEY"`
	SecretAccessKey string `yaml:"secret_access_key" env:"MINIO_SECRET_KEY"`
	BucketName      string `yaml:"bucket_name" env:"MINIO_BUCKET" env-default:"media-uploads"`
	UseSSL          bool   `yaml:"use_ssl" env:"MINIO_USE_SSL" env-default:"false"`
}

type SQS struct {
	QueueURL        string `yaml:"queue_url" env:"SQS_QUEUE_URL"`
	Region          string `yaml:"region" env:"AWS_REGION" env-default:"us-east-1"`
	Endpoint        string `yaml:"endpoint" env:"SQS_ENDPOINT" env-default:""`
	AccessKeyID     string `yaml:"access_key_id" env:"AWS_ACCESS_KEY_ID" env-default:""`
	SecretAccessKey string `yaml:"secret_access_key" env:"AWS_SECRET_ACCESS_KEY" env-default:""`
	// VisibilityTimeoutSeconds bounds how long a chunk stays invisible after
	// delivery; a crashed worker gets its message redelivered after this.
	VisibilityTimeoutSeconds int32 `yaml:"visibility_timeout_seconds" env:"SQS_VISIBILITY_TIMEOUT" env-default:"60"`
	WaitTimeSeconds          int32 `yaml:"wait_time_seconds" env:"SQS_WAIT_TIME" env-default:"20"`
}

type Upload struct {
	MultipartThreshold int64 `yaml:"multipart_threshold" env:"UPLOAD_MULTIPART_THRESHOLD" env-default:"104857600"`
	PartSize           int64 `yaml:"part_size" env:"UPLOAD_PART_SIZE" env-default:"5242880"`
	BatchThreshold     int   `yaml:"batch_threshold" env:"UPLOAD_BATCH_THRESHOLD" env-default:"10"`
	ChunkSize          int   `yaml:"chunk_size" env:"UPLOAD_CHUNK_SIZE" env-default:"50"`
	RecordTTLHours     int   `yaml:"record_ttl_hours" env:"UPLOAD_RECORD_TTL_HOURS" env-default:"24"`
	DirectGrantTTLSecs int   `yaml:"direct_grant_ttl_seconds" env:"UPLOAD_DIRECT_GRANT_TTL" env-default:"3600"`
	ChunkGrantTTLSecs  int   `yaml:"chunk_grant_ttl_seconds" env:"UPLOAD_CHUNK_GRANT_TTL" env-default:"900"`
	MaxFileSize        int64 `yaml:"max_file_size" env:"UPLOAD_MAX_FILE_SIZE" env-default:"104857600"`
	MaxVideoSize       int64 `yaml:"max_video_size" env:"UPLOAD_MAX_VIDEO_SIZE" env-default:"5368709120"`
}

func MustLoad() *Config {
	var configPath string

	configPath = os.Getenv("CONFIG_PATH")

	if configPath == "" {
		flags := flag.String("config", "", "Path to config file")
		flag.Parse()
		configPath = *flags

		if configPath == "" {
			log.Fatal("config path must be provided")
		}
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("config file does not exist at path: %s", configPath)
	}

	var cfg Config

	err := cleanenv.ReadConfig(configPath, &cfg)

	if err != nil {
		log.Fatalf("failed to read config: %s", err)
	}

	return &cfg
}
