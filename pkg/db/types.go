package db

type DBConfig struct {
	URI              string
	DBNamePrefix     string
	Timeout          int
	MaxPoolSize      uint64
	IdleConnTimeout  int
	RunIndexCreation bool
}

type DBConfigYaml struct {
	ConnectionStr    string `json:"connection_str" yaml:"connection_str"`
	Username         string `json:"username" yaml:"username"`
	Password         string `json:"password" yaml:"password"`
	ConnectionPrefix string `json:"connection_prefix" yaml:"connection_prefix"`
	Timeout          int    `json:"timeout" yaml:"timeout"`
	IdleConnTimeout  int    `json:"idle_conn_timeout" yaml:"idle_conn_timeout"`
	MaxPoolSize      int    `json:"max_pool_size" yaml:"max_pool_size"`
	DBNamePrefix     string `json:"db_name_prefix" yaml:"db_name_prefix"`
	RunIndexCreation bool   `json:"run_index_creation" yaml:"run_index_creation"`
}
