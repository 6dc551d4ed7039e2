package config

import (
	"flag"
	"fmt"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/shopspring/decimal"
	"os"
	"time"
)

type Config struct {
	Env      string `yaml:"env" env:"ENV" env-default:"local" env-description:"Environment" env-choices:"local,dev,prod"`
	ApiPort  int    `yaml:"api_port" env:"API_PORT" env-default:"8080"`
	ApiHost  string `yaml:"api_host" env:"API_HOST" env-default:"localhost"`
	Ledger   `yaml:"ledger"`
	Storage  `yaml:"storage"`
	Postgres `yaml:"postgres"`
	Kafka    `yaml:"kafka"`
	JWT      `yaml:"jwt"`
}

type Ledger struct {
	StartingBalance string        `yaml:"starting_balance" env:"LEDGER_STARTING_BALANCE" env-default:"1000"`
	SaveTimeout     time.Duration `yaml:"save_timeout" env:"LEDGER_SAVE_TIMEOUT" env-default:"5s"`
	BcryptCost      int           `yaml:"bcrypt_cost" env:"LEDGER_BCRYPT_COST" env-default:"10"`
}

type Storage struct {
	Driver       string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"file" env-choices:"file,postgres"`
	SnapshotPath string `yaml:"snapshot_path" env:"STORAGE_SNAPSHOT_PATH" env-default:"db.json"`
}

type Postgres struct {
	Host string `yaml:"host" env:"POSTGRES_HOST" env-default:"localhost"`
	Port string `yaml:"port" env:"POSTGRES_PORT" env-default:"5433"`
	User string `yaml:"user" env:"POSTGRES_USER" env-default:"test"`
	Pass string `yaml:"pass" env:"POSTGRES_PASS" env-default:"12345"`
	Db   string `yaml:"db" env:"POSTGRES_DB" env-default:"test_db"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
	Topic   string   `yaml:"topic" env:"KAFKA_TOPIC" env-default:"transfer_completed"`
}

type JWT struct {
	Secret string        `yaml:"secret" env:"JWT_SECRET" env-default:"secret42212"`
	TTL    time.Duration `yaml:"ttl" env:"JWT_TTL" env-default:"24h"`
}

func (p Postgres) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", p.User, p.Pass, p.Host, p.Port, p.Db)
}

func (l Ledger) StartingBalanceDecimal() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(l.StartingBalance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid starting balance %q: %w", l.StartingBalance, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("invalid starting balance %q: must not be negative", l.StartingBalance)
	}
	return d, nil
}

func MustLoad() *Config {
	cfg, err := Load(fetchConfigPath())
	if err != nil {
		panic("Failed to read config: " + err.Error())
	}

	return cfg
}

// Load reads the YAML file at path, with environment overrides. An empty
// path reads the environment only.
func Load(path string) (*Config, error) {
	var cfg Config

	if path == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, err
		}
	} else {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", path)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, err
		}
	}

	if _, err := cfg.Ledger.StartingBalanceDecimal(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	return res
}
