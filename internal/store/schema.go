package store

const schema = `
CREATE TABLE IF NOT EXISTS cycles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    generation INTEGER NOT NULL,
    period TEXT NOT NULL,
    outcome TEXT NOT NULL,
    error TEXT,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS cycle_totals (
    cycle_id INTEGER NOT NULL,
    package TEXT NOT NULL,
    downloads INTEGER NOT NULL,
    PRIMARY KEY (cycle_id, package),
    FOREIGN KEY (cycle_id) REFERENCES cycles(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_cycles_finished ON cycles(finished_at);
CREATE INDEX IF NOT EXISTS idx_cycles_outcome ON cycles(outcome);
CREATE INDEX IF NOT EXISTS idx_totals_package ON cycle_totals(package);
`
